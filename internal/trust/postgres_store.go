package trust

import (
	"context"
	"database/sql"
)

// PostgresStore persists trust stats in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed trust store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*Stats, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_id, score, total_trades, completed_trades, cancelled_trades,
		       disputed_trades, disputes_won, disputes_lost, updated_at
		FROM trust_stats WHERE user_id = $1`, userID)

	s := &Stats{}
	err := row.Scan(&s.UserID, &s.Score, &s.TotalTrades, &s.CompletedTrades,
		&s.CancelledTrades, &s.DisputedTrades, &s.DisputesWon, &s.DisputesLost, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Tier = TierOf(s.Score)
	return s, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, s *Stats) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trust_stats (user_id, score, total_trades, completed_trades,
			cancelled_trades, disputed_trades, disputes_won, disputes_lost, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			total_trades = EXCLUDED.total_trades,
			completed_trades = EXCLUDED.completed_trades,
			cancelled_trades = EXCLUDED.cancelled_trades,
			disputed_trades = EXCLUDED.disputed_trades,
			disputes_won = EXCLUDED.disputes_won,
			disputes_lost = EXCLUDED.disputes_lost,
			updated_at = EXCLUDED.updated_at`,
		s.UserID, s.Score, s.TotalTrades, s.CompletedTrades,
		s.CancelledTrades, s.DisputedTrades, s.DisputesWon, s.DisputesLost, s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) RecordOutcome(ctx context.Context, tradeID, userID string, outcome Outcome) (bool, error) {
	// ON CONFLICT DO NOTHING inserts zero rows when the tuple already exists,
	// which is exactly the duplicate signal callers want.
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO trust_outcomes (trade_id, user_id, outcome, applied_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (trade_id, user_id, outcome) DO NOTHING`,
		tradeID, userID, string(outcome),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
