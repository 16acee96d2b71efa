package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"surveyapp/backend/internal/db/dbtest"
	"surveyapp/backend/internal/session/repository"
	"surveyapp/backend/internal/user"
	userrepo "surveyapp/backend/internal/user/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *Store
	users *user.Directory
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	users := user.NewDirectory(userrepo.NewSQLRepository(conn), clock.Now)
	store := NewStore(repository.NewSQLRepository(conn), users, 30*24*time.Hour, clock.Now)
	return &fixture{store: store, users: users, clock: clock}
}

func (f *fixture) newUser(t *testing.T, phone string) string {
	t.Helper()
	u, err := f.users.FindOrCreate(context.Background(), phone)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	return u.ID
}

func TestCreateSession_TokenFormat(t *testing.T) {
	f := newFixture(t)
	userID := f.newUser(t, "+15551234567")

	token, expiresAt, err := f.store.CreateSession(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	if want := f.clock.Now().Add(30 * 24 * time.Hour); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}
}

func TestValidateSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.newUser(t, "+15551234567")
	token, _, _ := f.store.CreateSession(ctx, userID)

	u, err := f.store.ValidateSession(ctx, token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if u == nil || u.ID != userID || u.Phone != "+15551234567" {
		t.Fatalf("ValidateSession = %+v", u)
	}

	for _, bad := range []string{"", "deadbeef", token + "x"} {
		u, err := f.store.ValidateSession(ctx, bad)
		if err != nil || u != nil {
			t.Errorf("ValidateSession(%q) = %+v, %v; want nil, nil", bad, u, err)
		}
	}
}

func TestValidateSession_Expiry(t *testing.T) {
	testCases := []struct {
		name    string
		advance time.Duration
		valid   bool
	}{
		{"day 29", 29 * 24 * time.Hour, true},
		{"one ms before expiry", 30*24*time.Hour - time.Millisecond, true},
		{"at expiry", 30 * 24 * time.Hour, false},
		{"day 31", 31 * 24 * time.Hour, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			token, _, _ := f.store.CreateSession(ctx, f.newUser(t, "+15551234567"))
			f.clock.Advance(tc.advance)
			u, err := f.store.ValidateSession(ctx, token)
			if err != nil {
				t.Fatalf("ValidateSession: %v", err)
			}
			if (u != nil) != tc.valid {
				t.Errorf("valid = %v, want %v", u != nil, tc.valid)
			}
		})
	}
}

func TestCreateSession_SingleActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.newUser(t, "+15551234567")
	otherID := f.newUser(t, "+15557654321")

	first, _, _ := f.store.CreateSession(ctx, userID)
	other, _, _ := f.store.CreateSession(ctx, otherID)
	second, _, err := f.store.CreateSession(ctx, userID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first == second {
		t.Fatal("tokens must differ")
	}
	if u, _ := f.store.ValidateSession(ctx, first); u != nil {
		t.Error("earlier token should be invalid after a new session")
	}
	if u, _ := f.store.ValidateSession(ctx, second); u == nil {
		t.Error("latest token should be valid")
	}
	if u, _ := f.store.ValidateSession(ctx, other); u == nil || u.ID != otherID {
		t.Error("other users' sessions are unaffected")
	}
}

func TestRefreshSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.newUser(t, "+15551234567")
	old, _, _ := f.store.CreateSession(ctx, userID)

	f.clock.Advance(time.Hour)
	token, expiresAt, owner, err := f.store.RefreshSession(ctx, old)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if token == "" || token == old {
		t.Fatalf("refreshed token = %q", token)
	}
	if owner == nil || owner.ID != userID {
		t.Fatalf("owner = %+v", owner)
	}
	if want := f.clock.Now().Add(30 * 24 * time.Hour); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}
	if u, _ := f.store.ValidateSession(ctx, old); u != nil {
		t.Error("old token should be invalid after refresh")
	}
	if u, _ := f.store.ValidateSession(ctx, token); u == nil {
		t.Error("new token should be valid")
	}

	again, _, owner, err := f.store.RefreshSession(ctx, old)
	if err != nil || again != "" || owner != nil {
		t.Errorf("refresh with spent token = %q, %+v, %v", again, owner, err)
	}
}

func TestRefreshSession_Invalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token, _, _ := f.store.CreateSession(ctx, f.newUser(t, "+15551234567"))
	f.clock.Advance(31 * 24 * time.Hour)

	for _, tok := range []string{"", "unknown", token} {
		next, _, owner, err := f.store.RefreshSession(ctx, tok)
		if err != nil || next != "" || owner != nil {
			t.Errorf("RefreshSession(%q) = %q, %+v, %v", tok, next, owner, err)
		}
	}
}

func TestRefreshSession_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old, _, _ := f.store.CreateSession(ctx, f.newUser(t, "+15551234567"))

	const workers = 8
	var wg sync.WaitGroup
	tokens := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, _, _, err := f.store.RefreshSession(ctx, old)
			if err != nil {
				t.Errorf("RefreshSession: %v", err)
			}
			if token != "" {
				tokens <- token
			}
		}()
	}
	wg.Wait()
	close(tokens)

	var issued []string
	for tok := range tokens {
		issued = append(issued, tok)
	}
	if len(issued) != 1 {
		t.Fatalf("successful refreshes = %d, want 1", len(issued))
	}
	if u, _ := f.store.ValidateSession(ctx, issued[0]); u == nil {
		t.Error("winning token should be valid")
	}
}

func TestRevokeSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	token, _, _ := f.store.CreateSession(ctx, f.newUser(t, "+15551234567"))

	if err := f.store.RevokeSession(ctx, token); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if u, _ := f.store.ValidateSession(ctx, token); u != nil {
		t.Error("revoked token should be invalid")
	}
	for _, tok := range []string{token, "", "unknown"} {
		if err := f.store.RevokeSession(ctx, tok); err != nil {
			t.Errorf("RevokeSession(%q) should be idempotent: %v", tok, err)
		}
	}
}
