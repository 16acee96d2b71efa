package domain

import (
	"errors"
	"time"
)

// User is a phone identity: the durable account record keyed by normalized phone number.
type User struct {
	ID        string
	Phone     string // normalized, e.g. "+15551234567"; immutable
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Phone == "" {
		return errors.New("phone is required")
	}
	return nil
}
