package chat

import (
	"context"
	"database/sql"
)

// PostgresStore persists messages in PostgreSQL, indexed by (trade_id, seq).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed message store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, m *Message) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Advisory lock keyed on the trade serializes seq assignment against
	// concurrent appenders on other connections; readers are unaffected.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, m.TradeID); err != nil {
		return 0, err
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, trade_id, seq, sender, type, body, encrypted, created_at)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7
		FROM messages WHERE trade_id = $2
		RETURNING seq`,
		m.ID, m.TradeID, m.Sender, string(m.Type), m.Body, m.Encrypted, m.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

func (p *PostgresStore) Since(ctx context.Context, tradeID string, afterSeq int64, limit int) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, trade_id, seq, sender, type, body, encrypted, created_at
		FROM messages
		WHERE trade_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`,
		tradeID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Message
	for rows.Next() {
		m := &Message{}
		var typ string
		if err := rows.Scan(&m.ID, &m.TradeID, &m.Seq, &m.Sender, &typ, &m.Body, &m.Encrypted, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = Type(typ)
		result = append(result, m)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Count(ctx context.Context, tradeID string) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE trade_id = $1`, tradeID).Scan(&n)
	return n, err
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
