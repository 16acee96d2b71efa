package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"surveyapp/backend/internal/session/domain"
)

// SQLRepository stores sessions in SQLite or Postgres through sqlx.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository returns a session repository that uses the given db.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type sessionRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	TokenHash string `db:"token_hash"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
}

// Upsert replaces the user's session in a single statement on the user_id unique index.
func (r *SQLRepository) Upsert(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			id = excluded.id,
			token_hash = excluded.token_hash,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`),
		s.ID, s.UserID, s.TokenHash, s.CreatedAt.UTC().UnixMilli(), s.ExpiresAt.UTC().UnixMilli())
	return err
}

// GetByTokenHash returns the session for tokenHash, or nil if not found.
func (r *SQLRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT id, user_id, token_hash, created_at, expires_at
		FROM sessions WHERE token_hash = ?`), tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.Session{
		ID:        row.ID,
		UserID:    row.UserID,
		TokenHash: row.TokenHash,
		CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(row.ExpiresAt).UTC(),
	}, nil
}

// Rotate conditionally swaps the token; a concurrent refresh of the same token loses.
func (r *SQLRepository) Rotate(ctx context.Context, oldHash string, next *domain.Session, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET id = ?, token_hash = ?, created_at = ?, expires_at = ?
		WHERE token_hash = ? AND user_id = ? AND expires_at > ?`),
		next.ID, next.TokenHash, next.CreatedAt.UTC().UnixMilli(), next.ExpiresAt.UTC().UnixMilli(),
		oldHash, next.UserID, now.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteByTokenHash removes the session for tokenHash.
func (r *SQLRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE token_hash = ?`), tokenHash)
	return err
}
