package trade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is the production Store backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const tradeColumns = `id, buyer_id, seller_id, amount_crypto, amount_fiat, fiat_currency,
	payment_method, status, escrow_id, buyer_order_id, seller_order_id, cancel_reason,
	created_at, updated_at, expires_at, completed_at`

func (s *PostgresStore) Create(ctx context.Context, t *Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		t.ID, t.BuyerID, t.SellerID, t.AmountCrypto, t.AmountFiat, t.FiatCurrency,
		t.PaymentMethod, string(t.Status), t.EscrowID,
		nullString(t.BuyerOrderID), nullString(t.SellerOrderID), nullString(t.CancelReason),
		t.CreatedAt, t.UpdatedAt, nullTime(t.ExpiresAt), nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting trade: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Trade, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	return scanTrade(row)
}

func (s *PostgresStore) Update(ctx context.Context, t *Trade) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades
		SET status = $2, cancel_reason = $3, updated_at = $4, expires_at = $5, completed_at = $6
		WHERE id = $1`,
		t.ID, string(t.Status), nullString(t.CancelReason),
		t.UpdatedAt, nullTime(t.ExpiresAt), nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("updating trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`, string(StatusPaymentPending), before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTrade(row scannable) (*Trade, error) {
	var (
		t                       Trade
		status                  string
		buyerOrder, sellerOrder sql.NullString
		cancelReason            sql.NullString
		expiresAt, completedAt  sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.BuyerID, &t.SellerID, &t.AmountCrypto, &t.AmountFiat, &t.FiatCurrency,
		&t.PaymentMethod, &status, &t.EscrowID, &buyerOrder, &sellerOrder, &cancelReason,
		&t.CreatedAt, &t.UpdatedAt, &expiresAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning trade: %w", err)
	}
	t.Status = Status(status)
	t.BuyerOrderID = buyerOrder.String
	t.SellerOrderID = sellerOrder.String
	t.CancelReason = cancelReason.String
	if expiresAt.Valid {
		exp := expiresAt.Time
		t.ExpiresAt = &exp
	}
	if completedAt.Valid {
		done := completedAt.Time
		t.CompletedAt = &done
	}
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*Trade, error) {
	var out []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
