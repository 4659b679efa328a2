package users

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists user records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, display_name, kyc_verified, online, blocked_users, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	blockedJSON, _ := json.Marshal(u.BlockedUsers)
	if u.BlockedUsers == nil {
		blockedJSON = []byte("[]")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, kyc_verified, online, blocked_users, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.DisplayName, u.KYCVerified, u.Online, blockedJSON, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	blockedJSON, _ := json.Marshal(u.BlockedUsers)
	if u.BlockedUsers == nil {
		blockedJSON = []byte("[]")
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET display_name = $2, kyc_verified = $3, online = $4,
			blocked_users = $5, updated_at = $6
		WHERE id = $1`,
		u.ID, u.DisplayName, u.KYCVerified, u.Online, blockedJSON, u.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrUserNotFound
	}
	return err
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(s scannable) (*User, error) {
	u := &User{}
	var blockedJSON []byte

	err := s.Scan(&u.ID, &u.DisplayName, &u.KYCVerified, &u.Online, &blockedJSON, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(blockedJSON) > 0 {
		_ = json.Unmarshal(blockedJSON, &u.BlockedUsers)
	}
	return u, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
