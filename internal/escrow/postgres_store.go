package escrow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists escrow records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, trade_id, locked_amount, state, release_target,
		       released_amount, refunded_amount, settlement_tx,
		       created_at, updated_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, trade_id, locked_amount, state, release_target,
			released_amount, refunded_amount, settlement_tx,
			created_at, updated_at, resolved_at
		) VALUES (
			$1, $2, $3::NUMERIC(24,6), $4, $5,
			$6, $7, $8,
			$9, $10, $11
		)`,
		e.ID, e.TradeID, e.LockedAmount, string(e.State), nullString(string(e.ReleaseTarget)),
		nullString(e.ReleasedAmount), nullString(e.RefundedAmount), nullString(e.SettlementTx),
		e.CreatedAt, e.UpdatedAt, nullTime(e.ResolvedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) GetByTrade(ctx context.Context, tradeID string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE trade_id = $1`, tradeID)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	// locked_amount is deliberately absent: it is immutable once set.
	res, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET state = $2, release_target = $3,
			released_amount = $4, refunded_amount = $5, settlement_tx = $6,
			updated_at = $7, resolved_at = $8
		WHERE id = $1`,
		e.ID, string(e.State), nullString(string(e.ReleaseTarget)),
		nullString(e.ReleasedAmount), nullString(e.RefundedAmount), nullString(e.SettlementTx),
		e.UpdatedAt, nullTime(e.ResolvedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrEscrowNotFound
	}
	return err
}

func (p *PostgresStore) ListByState(ctx context.Context, state State, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE state = $1 ORDER BY created_at ASC LIMIT $2`,
		string(state), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEscrow(s scannable) (*Escrow, error) {
	e := &Escrow{}
	var (
		state          string
		releaseTarget  sql.NullString
		releasedAmount sql.NullString
		refundedAmount sql.NullString
		settlementTx   sql.NullString
		resolvedAt     sql.NullTime
	)

	err := s.Scan(&e.ID, &e.TradeID, &e.LockedAmount, &state, &releaseTarget,
		&releasedAmount, &refundedAmount, &settlementTx,
		&e.CreatedAt, &e.UpdatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	e.State = State(state)
	e.ReleaseTarget = Target(releaseTarget.String)
	e.ReleasedAmount = releasedAmount.String
	e.RefundedAmount = refundedAmount.String
	e.SettlementTx = settlementTx.String
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	return e, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
