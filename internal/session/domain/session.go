package domain

import "time"

// Session is the single active bearer session of a user. Only the SHA-256 hash of the
// token is stored.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Active reports whether the session is still valid at now (expiry is exclusive).
func (s *Session) Active(now time.Time) bool {
	return s != nil && now.Before(s.ExpiresAt)
}
