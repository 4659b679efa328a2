package match

import (
	"context"
	"database/sql"
	"encoding/json"
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

const orderColumns = `id, user_id, side, amount_crypto, amount_fiat, fiat_currency,
	payment_methods, min_trust_score, require_kyc, status, trade_id,
	created_at, updated_at, expires_at`

func (s *PostgresStore) Create(ctx context.Context, o *Order) error {
	methods, err := json.Marshal(o.PaymentMethods)
	if err != nil {
		return fmt.Errorf("encoding payment methods: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.UserID, string(o.Side), o.AmountCrypto, o.AmountFiat, o.FiatCurrency,
		methods, o.MinTrustScore, o.RequireKYC, string(o.Status), nullString(o.TradeID),
		o.CreatedAt, o.UpdatedAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *PostgresStore) Update(ctx context.Context, o *Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, trade_id = $3, updated_at = $4
		WHERE id = $1`,
		o.ID, string(o.Status), nullString(o.TradeID), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *PostgresStore) ListOpenBySide(ctx context.Context, side Side, fiatCurrency string, limit int) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND side = $2 AND fiat_currency = $3
		ORDER BY created_at ASC
		LIMIT $4`, string(StatusOpen), string(side), fiatCurrency, limit)
	if err != nil {
		return nil, fmt.Errorf("listing open orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`, string(StatusOpen), before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOrder(row scannable) (*Order, error) {
	var (
		o       Order
		side    string
		status  string
		methods []byte
		tradeID sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.UserID, &side, &o.AmountCrypto, &o.AmountFiat, &o.FiatCurrency,
		&methods, &o.MinTrustScore, &o.RequireKYC, &status, &tradeID,
		&o.CreatedAt, &o.UpdatedAt, &o.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning order: %w", err)
	}
	o.Side = Side(side)
	o.Status = Status(status)
	o.TradeID = tradeID.String
	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &o.PaymentMethods); err != nil {
			return nil, fmt.Errorf("decoding payment methods: %w", err)
		}
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
