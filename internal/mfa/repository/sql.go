package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"surveyapp/backend/internal/mfa/domain"
)

// SQLRepository stores OTP challenges in SQLite or Postgres through sqlx.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository returns an OTP challenge repository that uses the given db.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type challengeRow struct {
	ID         string        `db:"id"`
	Phone      string        `db:"phone_number"`
	CodeHash   string        `db:"code_hash"`
	Attempts   int           `db:"attempts"`
	CreatedAt  int64         `db:"created_at"`
	ExpiresAt  int64         `db:"expires_at"`
	ConsumedAt sql.NullInt64 `db:"consumed_at"`
}

func (r challengeRow) toDomain() *domain.Challenge {
	c := &domain.Challenge{
		ID:        r.ID,
		Phone:     r.Phone,
		CodeHash:  r.CodeHash,
		Attempts:  r.Attempts,
		CreatedAt: fromMillis(r.CreatedAt),
		ExpiresAt: fromMillis(r.ExpiresAt),
	}
	if r.ConsumedAt.Valid {
		t := fromMillis(r.ConsumedAt.Int64)
		c.ConsumedAt = &t
	}
	return c
}

// Replace upserts c over the open challenge for c.Phone unless a challenge for the phone was
// created after windowStart, consumed or not. It reports false, storing nothing, in that case.
// The check and the write share one transaction; the conditional upsert on the partial unique
// index (phone_number) WHERE consumed_at IS NULL serializes concurrent issuers.
func (r *SQLRepository) Replace(ctx context.Context, c *domain.Challenge, windowStart time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	since := toMillis(windowStart)
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO otp_challenges (id, phone_number, code_hash, attempts, created_at, expires_at, consumed_at)
		VALUES (?, ?, ?, 0, ?, ?, NULL)
		ON CONFLICT (phone_number) WHERE consumed_at IS NULL DO UPDATE SET
			id = excluded.id,
			code_hash = excluded.code_hash,
			attempts = 0,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE otp_challenges.created_at <= ?`),
		c.ID, c.Phone, c.CodeHash, toMillis(c.CreatedAt), toMillis(c.ExpiresAt), since)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	var consumed int
	if err := tx.GetContext(ctx, &consumed, tx.Rebind(`
		SELECT COUNT(*) FROM otp_challenges
		WHERE phone_number = ? AND consumed_at IS NOT NULL AND created_at > ?`), c.Phone, since); err != nil {
		return false, err
	}
	if consumed > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`DELETE FROM otp_challenges WHERE phone_number = ? AND consumed_at IS NOT NULL`), c.Phone); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetOpenByPhone returns the unconsumed challenge for phone, or nil if not found.
func (r *SQLRepository) GetOpenByPhone(ctx context.Context, phone string) (*domain.Challenge, error) {
	var row challengeRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT id, phone_number, code_hash, attempts, created_at, expires_at, consumed_at
		FROM otp_challenges WHERE phone_number = ? AND consumed_at IS NULL`), phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// Consume marks the challenge consumed only if it is still open and unexpired at at.
func (r *SQLRepository) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	ms := toMillis(at)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE otp_challenges SET consumed_at = ?
		WHERE id = ? AND consumed_at IS NULL AND expires_at > ?`), ms, id, ms)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementAttempts bumps attempts on an open challenge and returns the new count, or 0 if it is gone.
func (r *SQLRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		UPDATE otp_challenges SET attempts = attempts + 1
		WHERE id = ? AND consumed_at IS NULL
		RETURNING attempts`), id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return attempts, nil
}

// Expire ends the validity of an open challenge at at. The row is kept so it still counts
// toward the resend window.
func (r *SQLRepository) Expire(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE otp_challenges SET expires_at = ? WHERE id = ? AND consumed_at IS NULL`), toMillis(at), id)
	return err
}

// Reopen makes the latest consumed challenge for phone verifiable again. Expiry and attempts
// are left as they were.
func (r *SQLRepository) Reopen(ctx context.Context, phone string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE otp_challenges SET consumed_at = NULL
		WHERE id = (
			SELECT id FROM otp_challenges
			WHERE phone_number = ? AND consumed_at IS NOT NULL
			ORDER BY consumed_at DESC LIMIT 1
		)
		AND NOT EXISTS (
			SELECT 1 FROM otp_challenges WHERE phone_number = ? AND consumed_at IS NULL
		)`), phone, phone)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteOpen removes the challenge by id if it has not been consumed.
func (r *SQLRepository) DeleteOpen(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`DELETE FROM otp_challenges WHERE id = ? AND consumed_at IS NULL`), id)
	return err
}

// CountCreatedSince counts challenges for phone with created_at after since.
func (r *SQLRepository) CountCreatedSince(ctx context.Context, phone string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(
		`SELECT COUNT(*) FROM otp_challenges WHERE phone_number = ? AND created_at > ?`), phone, toMillis(since))
	return n, err
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
