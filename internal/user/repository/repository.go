package repository

import (
	"context"

	"surveyapp/backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	// CreateIfAbsent inserts u unless a user with the same phone exists. Reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, u *domain.User) (bool, error)
}
