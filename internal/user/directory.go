// Package user resolves phone numbers to durable identities.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"surveyapp/backend/internal/user/domain"
	"surveyapp/backend/internal/user/repository"
)

// Directory is the user directory: find-or-create by phone, lookup by id.
type Directory struct {
	repo repository.Repository
	now  func() time.Time
}

// NewDirectory returns a directory over repo. now may be nil (time.Now).
func NewDirectory(repo repository.Repository, now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{repo: repo, now: now}
}

// FindOrCreate returns the identity for phone, creating it on first use. Concurrent first
// registrations for one phone converge on a single identity: the insert is ignored on
// conflict and the winner is re-read.
func (d *Directory) FindOrCreate(ctx context.Context, phone string) (*domain.User, error) {
	if phone == "" {
		return nil, errors.New("user: phone is required")
	}
	u, err := d.repo.GetByPhone(ctx, phone)
	if err != nil || u != nil {
		return u, err
	}
	now := d.now().UTC()
	candidate := &domain.User{ID: uuid.New().String(), Phone: phone, CreatedAt: now, UpdatedAt: now}
	if _, err := d.repo.CreateIfAbsent(ctx, candidate); err != nil {
		return nil, err
	}
	u, err = d.repo.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.New("user: identity missing after create")
	}
	return u, nil
}

// GetByID returns the user for id, or nil if not found.
func (d *Directory) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, nil
	}
	return d.repo.GetByID(ctx, id)
}
