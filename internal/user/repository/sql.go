package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"surveyapp/backend/internal/user/domain"
)

// SQLRepository stores users in SQLite or Postgres through sqlx.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository returns a user repository that uses the given db for persistence.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

type userRow struct {
	ID        string `db:"id"`
	Phone     string `db:"phone_number"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:        r.ID,
		Phone:     r.Phone,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.get(ctx, `SELECT id, phone_number, created_at, updated_at FROM users WHERE id = ?`, id)
}

// GetByPhone returns the user with the given normalized phone, or nil if not found.
func (r *SQLRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.get(ctx, `SELECT id, phone_number, created_at, updated_at FROM users WHERE phone_number = ?`, phone)
}

func (r *SQLRepository) get(ctx context.Context, query string, arg any) (*domain.User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// CreateIfAbsent inserts the user unless the phone is taken. The user must have ID set.
func (r *SQLRepository) CreateIfAbsent(ctx context.Context, u *domain.User) (bool, error) {
	if err := u.Validate(); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, phone_number, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (phone_number) DO NOTHING`),
		u.ID, u.Phone, u.CreatedAt.UTC().UnixMilli(), u.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
