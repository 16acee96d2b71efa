package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"surveyapp/backend/internal/audit/domain"
	auditrepo "surveyapp/backend/internal/audit/repository"
)

// Actions recorded by the auth flow.
const (
	ActionOTPSent           = "otp_sent"
	ActionOTPRateLimited    = "otp_rate_limited"
	ActionOTPDeliveryFailed = "otp_delivery_failed"
	ActionOTPVerifyFailed   = "otp_verify_failed"
	ActionLogin             = "login"
	ActionTokenRefreshed    = "token_refreshed"
	ActionLogout            = "logout"
)

// Resources.
const (
	ResourceOTP     = "otp"
	ResourceSession = "session"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource. Used by the auth flow.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
	nowF        func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor, nowF: time.Now}
}

// LogEvent writes one audit log entry. metadata is stored as a JSON object. Best-effort:
// errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	var meta string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			log.Printf("audit: encode metadata for %s: %v", action, err)
		} else {
			meta = string(b)
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  meta,
		CreatedAt: l.nowF().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}
