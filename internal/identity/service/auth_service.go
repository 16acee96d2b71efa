// Package service implements phone OTP sign-in: send-code, verify-code, refresh, logout and
// bearer authentication. Every failure leaving this package is a platform/errors.Error.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"surveyapp/backend/internal/audit"
	"surveyapp/backend/internal/mfa"
	"surveyapp/backend/internal/mfa/sms"
	apperrors "surveyapp/backend/internal/platform/errors"
	policyengine "surveyapp/backend/internal/policy/engine"
	"surveyapp/backend/internal/telemetry"
	userdomain "surveyapp/backend/internal/user/domain"
)

const (
	tracerName      = "surveyapp/backend/internal/identity/service"
	telemetrySource = "auth"
)

// OTPStore is the subset of mfa.Store used by the auth flow.
type OTPStore interface {
	CanRequestCode(ctx context.Context, phone string) (bool, error)
	IssueCode(ctx context.Context, phone string) (*mfa.Issued, error)
	VerifyCode(ctx context.Context, phone, code string) (bool, error)
	Discard(ctx context.Context, challengeID string) error
	Release(ctx context.Context, phone string) error
	ResendWindow() time.Duration
}

// SessionStore is the subset of session.Store used by the auth flow.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string) (string, time.Time, error)
	ValidateSession(ctx context.Context, token string) (*userdomain.User, error)
	RefreshSession(ctx context.Context, oldToken string) (string, time.Time, *userdomain.User, error)
	RevokeSession(ctx context.Context, token string) error
}

// UserDirectory is the subset of user.Directory used by the auth flow.
type UserDirectory interface {
	FindOrCreate(ctx context.Context, phone string) (*userdomain.User, error)
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Deps are the collaborators of AuthService. OTP, Sessions, Users and Sender are required;
// the rest may be nil.
type Deps struct {
	OTP      OTPStore
	Sessions SessionStore
	Users    UserDirectory
	Sender   sms.Sender
	Policy   policyengine.Evaluator
	Audit    audit.AuditLogger
	Events   telemetry.EventEmitter
	Metrics  *telemetry.AuthMetrics
	Now      func() time.Time
}

// SendCodeResult acknowledges a delivered code.
type SendCodeResult struct {
	Phone             string
	ExpiresAt         time.Time
	RetryAfterSeconds int
}

// AuthResult is a freshly issued bearer token and its owner.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *userdomain.User
}

// AuthService orchestrates the OTP store, user directory and session store.
type AuthService struct {
	otp      OTPStore
	sessions SessionStore
	users    UserDirectory
	sender   sms.Sender
	policy   policyengine.Evaluator
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
	metrics  *telemetry.AuthMetrics
	now      func() time.Time
	tracer   trace.Tracer
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps) *AuthService {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &AuthService{
		otp:      d.OTP,
		sessions: d.Sessions,
		users:    d.Users,
		sender:   d.Sender,
		policy:   d.Policy,
		audit:    d.Audit,
		events:   d.Events,
		metrics:  d.Metrics,
		now:      d.Now,
		tracer:   otel.Tracer(tracerName),
	}
}

// SendCode issues a one-time code for rawPhone and hands it to the sender.
// Fails with Validation for a malformed or disallowed number, RateLimited inside the resend
// window and Delivery when the sender fails; in that case the code is discarded.
func (s *AuthService) SendCode(ctx context.Context, rawPhone string) (_ *SendCodeResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.SendCode")
	defer func() { endSpan(span, err) }()

	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("phone.digits", len(phone.Digits())))

	if s.policy != nil {
		// Evaluation errors are logged inside the evaluator, which fails open.
		allowed, _ := s.policy.AllowPhone(ctx, policyengine.PhoneInput{E164: phone.E164(), Digits: phone.Digits()})
		if !allowed {
			return nil, apperrors.New(apperrors.CodeValidation, "phone number is not allowed")
		}
	}

	ok, err := s.otp.CanRequestCode(ctx, phone.E164())
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !ok {
		return nil, s.rateLimited(ctx, phone)
	}

	// IssueCode re-checks the window atomically; concurrent requests that all passed the
	// read above are rejected there.
	issued, err := s.otp.IssueCode(ctx, phone.E164())
	if errors.Is(err, mfa.ErrRateLimited) {
		return nil, s.rateLimited(ctx, phone)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.sender.SendOTP(ctx, phone.E164(), issued.Code); err != nil {
		if derr := s.otp.Discard(ctx, issued.ID); derr != nil {
			log.Printf("auth: discard challenge %s after delivery failure: %v", issued.ID, derr)
		}
		s.record(ctx, "", audit.ActionOTPDeliveryFailed, audit.ResourceOTP, map[string]string{"phone": phone.E164()})
		s.metrics.OTPSent(ctx, "delivery_failed")
		return nil, apperrors.Wrap(apperrors.CodeDelivery, "failed to send code", err)
	}

	s.record(ctx, "", audit.ActionOTPSent, audit.ResourceOTP, map[string]string{"phone": phone.E164()})
	s.metrics.OTPSent(ctx, "sent")
	return &SendCodeResult{
		Phone:             phone.E164(),
		ExpiresAt:         issued.ExpiresAt,
		RetryAfterSeconds: int(math.Ceil(s.otp.ResendWindow().Seconds())),
	}, nil
}

// VerifyCode checks code for rawPhone and, on success, signs the identity in, creating it on
// first use. Any earlier session for the identity is replaced. If sign-in fails after the
// code was consumed, the code is released so the caller can retry it.
func (s *AuthService) VerifyCode(ctx context.Context, rawPhone, code string) (_ *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.VerifyCode")
	defer func() { endSpan(span, err) }()

	if rawPhone == "" || code == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "phone number and code are required")
	}
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	if !mfa.WellFormedOTP(code) {
		return nil, apperrors.New(apperrors.CodeValidation, "code must be 6 digits")
	}

	ok, err := s.otp.VerifyCode(ctx, phone.E164(), code)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !ok {
		s.record(ctx, "", audit.ActionOTPVerifyFailed, audit.ResourceOTP, map[string]string{"phone": phone.E164()})
		s.metrics.OTPVerifyFailed(ctx)
		return nil, apperrors.New(apperrors.CodeInvalidOrExpiredOTP, "invalid or expired code")
	}

	u, err := s.users.FindOrCreate(ctx, phone.E164())
	if err != nil {
		s.releaseCode(ctx, phone)
		return nil, apperrors.Internal(err)
	}
	token, expiresAt, err := s.sessions.CreateSession(ctx, u.ID)
	if err != nil {
		s.releaseCode(ctx, phone)
		return nil, apperrors.Internal(err)
	}

	s.record(ctx, u.ID, audit.ActionLogin, audit.ResourceSession, nil)
	s.metrics.Login(ctx, "otp")
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

// Authenticate resolves a bearer token to its identity. Missing, unknown or expired tokens
// are Unauthenticated.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*userdomain.User, error) {
	if token == "" {
		return nil, errAuthRequired
	}
	u, err := s.sessions.ValidateSession(ctx, token)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if u == nil {
		return nil, errInvalidToken
	}
	return u, nil
}

// Profile returns the identity behind token, re-read from the directory.
func (s *AuthService) Profile(ctx context.Context, token string) (*userdomain.User, error) {
	u, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	fresh, err := s.users.GetByID(ctx, u.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if fresh == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "user not found")
	}
	return fresh, nil
}

// Refresh swaps a valid token for a new one; the old token stops working.
func (s *AuthService) Refresh(ctx context.Context, token string) (_ *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()

	if token == "" {
		return nil, errAuthRequired
	}
	next, expiresAt, u, err := s.sessions.RefreshSession(ctx, token)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if next == "" || u == nil {
		return nil, errInvalidToken
	}
	s.record(ctx, u.ID, audit.ActionTokenRefreshed, audit.ResourceSession, nil)
	s.metrics.Login(ctx, "refresh")
	return &AuthResult{Token: next, ExpiresAt: expiresAt, User: u}, nil
}

// Logout revokes token if present. It always returns nil; storage failures are only logged.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer span.End()
	if token == "" {
		return nil
	}
	var userID string
	if u, err := s.sessions.ValidateSession(ctx, token); err == nil && u != nil {
		userID = u.ID
	}
	if err := s.sessions.RevokeSession(ctx, token); err != nil {
		log.Printf("auth: revoke session: %v", err)
		span.RecordError(err)
		return nil
	}
	if userID != "" {
		s.record(ctx, userID, audit.ActionLogout, audit.ResourceSession, nil)
	}
	return nil
}

// releaseCode hands a consumed code back when sign-in failed after verification.
func (s *AuthService) releaseCode(ctx context.Context, phone Phone) {
	if err := s.otp.Release(ctx, phone.E164()); err != nil {
		log.Printf("auth: release code for %s: %v", phone.E164(), err)
	}
}

func (s *AuthService) rateLimited(ctx context.Context, phone Phone) error {
	s.record(ctx, "", audit.ActionOTPRateLimited, audit.ResourceOTP, map[string]string{"phone": phone.E164()})
	s.metrics.OTPSent(ctx, "rate_limited")
	return apperrors.New(apperrors.CodeRateLimited, "please wait before requesting another code")
}

var (
	errAuthRequired = apperrors.New(apperrors.CodeUnauthenticated, "authentication token required")
	errInvalidToken = apperrors.New(apperrors.CodeUnauthenticated, "invalid or expired token")
)

// record writes the audit entry and emits the matching telemetry event. Both are best-effort.
func (s *AuthService) record(ctx context.Context, userID, action, resource string, metadata map[string]string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, userID, action, resource, metadata)
	}
	if s.events == nil {
		return
	}
	ev := &telemetry.Event{
		EventType: action,
		Source:    telemetrySource,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			ev.Metadata = b
		}
	}
	telemetry.EmitAsync(s.events, ctx, ev)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error.code", string(apperrors.CodeOf(err))))
		if apperrors.CodeOf(err) == apperrors.CodeInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, "internal")
		}
	}
	span.End()
}
