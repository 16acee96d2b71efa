package domain

import "time"

// AuditLog represents an audit event. UserID is empty for events without a known identity
// (e.g. a code requested for a phone that has not registered yet).
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
