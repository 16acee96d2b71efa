package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"surveyapp/backend/internal/audit"
	"surveyapp/backend/internal/db/dbtest"
	"surveyapp/backend/internal/mfa"
	mfarepo "surveyapp/backend/internal/mfa/repository"
	apperrors "surveyapp/backend/internal/platform/errors"
	policyengine "surveyapp/backend/internal/policy/engine"
	"surveyapp/backend/internal/security"
	"surveyapp/backend/internal/session"
	sessionrepo "surveyapp/backend/internal/session/repository"
	"surveyapp/backend/internal/telemetry"
	"surveyapp/backend/internal/user"
	userdomain "surveyapp/backend/internal/user/domain"
	userrepo "surveyapp/backend/internal/user/repository"
)

const scenarioPhone = "+15550101234"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// captureSender records the last code per phone.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *captureSender) SendOTP(ctx context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[phone] = code
	return nil
}

func (s *captureSender) last(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type auditEntry struct {
	userID, action, resource string
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *memAudit) LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{userID, action, resource})
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.action
	}
	return out
}

type denyPolicy struct{}

func (denyPolicy) AllowPhone(context.Context, policyengine.PhoneInput) (bool, error) {
	return false, nil
}

type fixture struct {
	svc    *AuthService
	sender *captureSender
	audit  *memAudit
	clock  *fakeClock
	otp    *mfa.Store
}

func newFixture(t *testing.T, configure ...func(*Deps)) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	users := user.NewDirectory(userrepo.NewSQLRepository(conn), clock.Now)
	otp := mfa.NewStore(mfarepo.NewSQLRepository(conn), security.NewHasher(4), mfa.Options{
		TTL:          10 * time.Minute,
		ResendWindow: 60 * time.Second,
		MaxAttempts:  mfa.DefaultMaxAttempts,
		Now:          clock.Now,
	})
	sender := &captureSender{}
	auditLog := &memAudit{}
	deps := Deps{
		OTP:      otp,
		Sessions: session.NewStore(sessionrepo.NewSQLRepository(conn), users, 30*24*time.Hour, clock.Now),
		Users:    users,
		Sender:   sender,
		Audit:    auditLog,
		Now:      clock.Now,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	return &fixture{svc: NewAuthService(deps), sender: sender, audit: auditLog, clock: clock, otp: otp}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func assertCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", want)
	}
	if got := apperrors.CodeOf(err); got != want {
		t.Fatalf("code = %s, want %s (err: %v)", got, want, err)
	}
}

// signIn runs send-code and verify-code for phone and returns the result.
func (f *fixture) signIn(t *testing.T, phone string) *AuthResult {
	t.Helper()
	ctx := context.Background()
	sent, err := f.svc.SendCode(ctx, phone)
	if err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	// Codes are delivered to the normalized number, not the raw input.
	res, err := f.svc.VerifyCode(ctx, phone, f.sender.last(sent.Phone))
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	return res
}

func TestScenarioA_SendAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sent, err := f.svc.SendCode(ctx, scenarioPhone)
	if err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	if sent.Phone != scenarioPhone {
		t.Errorf("Phone = %q", sent.Phone)
	}
	if want := f.clock.Now().Add(10 * time.Minute); !sent.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", sent.ExpiresAt, want)
	}
	if sent.RetryAfterSeconds != 60 {
		t.Errorf("RetryAfterSeconds = %d, want 60", sent.RetryAfterSeconds)
	}
	code := f.sender.last(scenarioPhone)

	_, err = f.svc.VerifyCode(ctx, scenarioPhone, wrongCode(code))
	assertCode(t, err, apperrors.CodeInvalidOrExpiredOTP)

	res, err := f.svc.VerifyCode(ctx, scenarioPhone, code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if len(res.Token) != 64 || res.User == nil || res.User.Phone != scenarioPhone {
		t.Fatalf("VerifyCode = %+v", res)
	}
	u, err := f.svc.Authenticate(ctx, res.Token)
	if err != nil || u.ID != res.User.ID {
		t.Fatalf("Authenticate = %+v, %v", u, err)
	}

	want := []string{audit.ActionOTPSent, audit.ActionOTPVerifyFailed, audit.ActionLogin}
	got := f.audit.actions()
	if len(got) != len(want) {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScenarioB_Refresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	t1 := f.signIn(t, scenarioPhone)

	t2, err := f.svc.Refresh(ctx, t1.Token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if t2.Token == t1.Token {
		t.Fatal("refreshed token must differ")
	}
	if t2.User.ID != t1.User.ID {
		t.Errorf("refresh owner = %q, want %q", t2.User.ID, t1.User.ID)
	}
	_, err = f.svc.Authenticate(ctx, t1.Token)
	assertCode(t, err, apperrors.CodeUnauthenticated)
	if u, err := f.svc.Authenticate(ctx, t2.Token); err != nil || u.ID != t1.User.ID {
		t.Errorf("Authenticate(T2) = %+v, %v", u, err)
	}

	_, err = f.svc.Refresh(ctx, t1.Token)
	assertCode(t, err, apperrors.CodeUnauthenticated)
	_, err = f.svc.Refresh(ctx, "")
	assertCode(t, err, apperrors.CodeUnauthenticated)
}

func TestScenarioC_LogoutIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.signIn(t, scenarioPhone)

	if err := f.svc.Logout(ctx, res.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, err := f.svc.Authenticate(ctx, res.Token)
	assertCode(t, err, apperrors.CodeUnauthenticated)
	if err := f.svc.Logout(ctx, res.Token); err != nil {
		t.Errorf("second Logout: %v", err)
	}
	if err := f.svc.Logout(ctx, ""); err != nil {
		t.Errorf("Logout without token: %v", err)
	}

	logouts := 0
	for _, a := range f.audit.actions() {
		if a == audit.ActionLogout {
			logouts++
		}
	}
	if logouts != 1 {
		t.Errorf("logout audit entries = %d, want 1", logouts)
	}
}

func TestScenarioD_RateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.SendCode(ctx, scenarioPhone); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	f.clock.Advance(500 * time.Millisecond)
	_, err := f.svc.SendCode(ctx, "+1 (555) 010-1234")
	assertCode(t, err, apperrors.CodeRateLimited)

	f.clock.Advance(60 * time.Second)
	if _, err := f.svc.SendCode(ctx, scenarioPhone); err != nil {
		t.Errorf("SendCode after window: %v", err)
	}
}

func TestSendCode_ConcurrentRequestsSendOneCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SendCode(ctx, scenarioPhone)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	sent := 0
	for err := range errs {
		switch {
		case err == nil:
			sent++
		case apperrors.CodeOf(err) != apperrors.CodeRateLimited:
			t.Errorf("SendCode: %v", err)
		}
	}
	if sent != 1 {
		t.Errorf("codes sent = %d, want 1", sent)
	}
	if got := f.sender.last(scenarioPhone); got == "" {
		t.Fatal("the accepted request should have delivered a code")
	}
	if ok, _ := f.otp.VerifyCode(ctx, scenarioPhone, f.sender.last(scenarioPhone)); !ok {
		t.Error("the delivered code should be the stored one")
	}
}

func TestSendCode_Validation(t *testing.T) {
	f := newFixture(t)
	for _, phone := range []string{"", "12345", "abcdefghijkl", "1234567890123456"} {
		_, err := f.svc.SendCode(context.Background(), phone)
		assertCode(t, err, apperrors.CodeValidation)
	}
	if len(f.sender.codes) != 0 {
		t.Error("no code should be sent for invalid numbers")
	}
}

func TestSendCode_PolicyDenied(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Policy = denyPolicy{} })
	_, err := f.svc.SendCode(context.Background(), scenarioPhone)
	assertCode(t, err, apperrors.CodeValidation)
}

func TestSendCode_DeliveryFailureDiscardsChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sender.err = errors.New("gateway timeout")

	_, err := f.svc.SendCode(ctx, scenarioPhone)
	assertCode(t, err, apperrors.CodeDelivery)
	if !apperrors.CodeOf(err).Retryable() {
		t.Error("delivery errors are retryable")
	}

	ok, err := f.otp.CanRequestCode(ctx, scenarioPhone)
	if err != nil || !ok {
		t.Errorf("CanRequestCode after failed delivery = %v, %v; want true", ok, err)
	}
	f.sender.err = nil
	if _, err := f.svc.SendCode(ctx, scenarioPhone); err != nil {
		t.Errorf("retry SendCode: %v", err)
	}
}

func TestVerifyCode_Validation(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name  string
		phone string
		code  string
	}{
		{"missing phone", "", "123456"},
		{"missing code", scenarioPhone, ""},
		{"short phone", "12345", "123456"},
		{"short code", scenarioPhone, "12345"},
		{"letters", scenarioPhone, "12a456"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.VerifyCode(context.Background(), tc.phone, tc.code)
			assertCode(t, err, apperrors.CodeValidation)
		})
	}
}

func TestVerifyCode_ExpiredAndReplayed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.SendCode(ctx, scenarioPhone); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := f.sender.last(scenarioPhone)
	f.clock.Advance(10 * time.Minute)
	_, err := f.svc.VerifyCode(ctx, scenarioPhone, code)
	assertCode(t, err, apperrors.CodeInvalidOrExpiredOTP)

	f.clock.Advance(time.Minute)
	res := f.signIn(t, scenarioPhone)
	_, err = f.svc.VerifyCode(ctx, scenarioPhone, f.sender.last(scenarioPhone))
	assertCode(t, err, apperrors.CodeInvalidOrExpiredOTP)
	if _, err := f.svc.Authenticate(ctx, res.Token); err != nil {
		t.Errorf("failed replay must not affect the session: %v", err)
	}
}

func TestVerifyCode_SameIdentityAcrossLogins(t *testing.T) {
	f := newFixture(t)
	first := f.signIn(t, scenarioPhone)
	f.clock.Advance(2 * time.Minute)
	second := f.signIn(t, "15550101234")

	if first.User.ID != second.User.ID {
		t.Errorf("identity changed: %q then %q", first.User.ID, second.User.ID)
	}
	_, err := f.svc.Authenticate(context.Background(), first.Token)
	assertCode(t, err, apperrors.CodeUnauthenticated)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.signIn(t, scenarioPhone)

	for _, tok := range []string{"", "unknown"} {
		_, err := f.svc.Authenticate(ctx, tok)
		assertCode(t, err, apperrors.CodeUnauthenticated)
	}
	f.clock.Advance(30 * 24 * time.Hour)
	_, err := f.svc.Authenticate(ctx, res.Token)
	assertCode(t, err, apperrors.CodeUnauthenticated)
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := f.signIn(t, scenarioPhone)

	u, err := f.svc.Profile(ctx, res.Token)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if u.ID != res.User.ID || u.Phone != scenarioPhone {
		t.Errorf("Profile = %+v", u)
	}
	_, err = f.svc.Profile(ctx, "")
	assertCode(t, err, apperrors.CodeUnauthenticated)
}

type failingOTPStore struct{ *mfa.Store }

func (failingOTPStore) CanRequestCode(context.Context, string) (bool, error) {
	return false, errors.New("database is locked")
}

func (failingOTPStore) VerifyCode(context.Context, string, string) (bool, error) {
	return false, errors.New("database is locked")
}

func TestStorageFailuresBecomeInternal(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.OTP = failingOTPStore{} })

	_, err := f.svc.SendCode(context.Background(), scenarioPhone)
	assertCode(t, err, apperrors.CodeInternal)
	if msg := apperrors.MessageOf(err); msg != "internal server error" {
		t.Errorf("message = %q, storage details must not leak", msg)
	}
	_, err = f.svc.VerifyCode(context.Background(), scenarioPhone, "123456")
	assertCode(t, err, apperrors.CodeInternal)
}

// flakyUsers fails FindOrCreate the first n times.
type flakyUsers struct {
	UserDirectory
	mu    sync.Mutex
	fails int
}

func (u *flakyUsers) FindOrCreate(ctx context.Context, phone string) (*userdomain.User, error) {
	u.mu.Lock()
	if u.fails > 0 {
		u.fails--
		u.mu.Unlock()
		return nil, errors.New("database is locked")
	}
	u.mu.Unlock()
	return u.UserDirectory.FindOrCreate(ctx, phone)
}

func TestVerifyCode_StorageFailureKeepsCodeUsable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(d *Deps) { d.Users = &flakyUsers{UserDirectory: d.Users, fails: 1} })

	sent, err := f.svc.SendCode(ctx, scenarioPhone)
	if err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	code := f.sender.last(sent.Phone)

	_, err = f.svc.VerifyCode(ctx, scenarioPhone, code)
	assertCode(t, err, apperrors.CodeInternal)

	res, err := f.svc.VerifyCode(ctx, scenarioPhone, code)
	if err != nil {
		t.Fatalf("retry VerifyCode: %v", err)
	}
	if res.User == nil || res.User.Phone != scenarioPhone {
		t.Fatalf("VerifyCode = %+v", res)
	}
	_, err = f.svc.VerifyCode(ctx, scenarioPhone, code)
	assertCode(t, err, apperrors.CodeInvalidOrExpiredOTP)
}

type chanEmitter chan *telemetry.Event

func (c chanEmitter) Emit(ctx context.Context, ev *telemetry.Event) error {
	c <- ev
	return nil
}

func TestSendCode_EmitsTelemetry(t *testing.T) {
	events := make(chanEmitter, 4)
	f := newFixture(t, func(d *Deps) { d.Events = events })
	if _, err := f.svc.SendCode(context.Background(), scenarioPhone); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	select {
	case ev := <-events:
		if ev.EventType != audit.ActionOTPSent || ev.Source != "auth" {
			t.Errorf("event = %+v", ev)
		}
		if string(ev.Metadata) != `{"phone":"+15550101234"}` {
			t.Errorf("metadata = %s", ev.Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry event emitted")
	}
}
