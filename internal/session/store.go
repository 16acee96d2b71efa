// Package session issues, validates, refreshes and revokes opaque bearer tokens.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"surveyapp/backend/internal/security"
	"surveyapp/backend/internal/session/domain"
	"surveyapp/backend/internal/session/repository"
	userdomain "surveyapp/backend/internal/user/domain"
)

// UserLookup resolves the owner of a session.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Store is the session store. A user holds at most one session: issuing a token
// invalidates every earlier one.
type Store struct {
	repo  repository.Repository
	users UserLookup
	ttl   time.Duration
	now   func() time.Time
}

// NewStore returns a session store. ttl <= 0 selects DefaultSessionTTL; now may be nil.
func NewStore(repo repository.Repository, users UserLookup, ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = repository.DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{repo: repo, users: users, ttl: ttl, now: now}
}

// CreateSession mints a new token for userID, replacing any prior session.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, time.Time, error) {
	token, sess, err := s.mint(userID)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.repo.Upsert(ctx, sess); err != nil {
		return "", time.Time{}, err
	}
	return token, sess.ExpiresAt, nil
}

// ValidateSession returns the owner of token while the session is unexpired. Unknown,
// expired and empty tokens yield nil without error.
func (s *Store) ValidateSession(ctx context.Context, token string) (*userdomain.User, error) {
	sess, err := s.lookup(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}
	return s.users.GetByID(ctx, sess.UserID)
}

// RefreshSession exchanges a valid token for a new one; the old token stops working.
// Returns "" and nil user when oldToken is not a valid session.
func (s *Store) RefreshSession(ctx context.Context, oldToken string) (string, time.Time, *userdomain.User, error) {
	sess, err := s.lookup(ctx, oldToken)
	if err != nil || sess == nil {
		return "", time.Time{}, nil, err
	}
	owner, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil || owner == nil {
		return "", time.Time{}, nil, err
	}
	token, next, err := s.mint(owner.ID)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	rotated, err := s.repo.Rotate(ctx, sess.TokenHash, next, s.now())
	if err != nil {
		return "", time.Time{}, nil, err
	}
	if !rotated {
		return "", time.Time{}, nil, nil
	}
	return token, next.ExpiresAt, owner, nil
}

// RevokeSession deletes the session for token. Idempotent.
func (s *Store) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.repo.DeleteByTokenHash(ctx, security.HashSessionToken(token))
}

func (s *Store) lookup(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.repo.GetByTokenHash(ctx, security.HashSessionToken(token))
	if err != nil || sess == nil {
		return nil, err
	}
	if !security.SessionTokenHashEqual(token, sess.TokenHash) || !sess.Active(s.now()) {
		return nil, nil
	}
	return sess, nil
}

func (s *Store) mint(userID string) (string, *domain.Session, error) {
	token, err := security.GenerateSessionToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	return token, &domain.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: security.HashSessionToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}, nil
}
