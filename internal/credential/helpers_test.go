package credential_test

import (
	"sync"
	"testing"
	"time"

	"account-platform/internal/credential"
	"account-platform/internal/credential/credentialtest"
	"account-platform/internal/security"
	userdomain "account-platform/internal/user/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mem      *credentialtest.Store
	clock    *testClock
	tokens   *security.TokenProvider
	store    *credential.Store
	verifier *credential.Verifier
	revoker  *credential.Revoker
	refresh  *credential.RefreshPolicy
}

const sessionTTL = 7 * 24 * time.Hour

func newFixture(t *testing.T, opts ...credential.Option) *fixture {
	t.Helper()
	clock := newTestClock()
	mem := credentialtest.New()
	hasher := security.NewTestHasher()
	tokens := security.NewTestHMACTokenProvider()
	opts = append([]credential.Option{credential.WithClock(clock.Now)}, opts...)
	store := credential.NewStore(mem, hasher, opts...)
	verifier := credential.NewVerifier(mem, hasher, opts...)
	return &fixture{
		mem:      mem,
		clock:    clock,
		tokens:   tokens,
		store:    store,
		verifier: verifier,
		revoker:  credential.NewRevoker(mem, verifier, opts...),
		refresh:  credential.NewRefreshPolicy(mem, verifier, store, tokens, sessionTTL, opts...),
	}
}

func (f *fixture) addUser(t *testing.T, id string) *userdomain.User {
	t.Helper()
	u := &userdomain.User{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: "unused",
		Role:         "member",
		Status:       userdomain.UserStatusActive,
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}
	f.mem.PutUser(u)
	return u
}

// login saves a session for userID and returns its refresh plaintext and session id.
func (f *fixture) login(t *testing.T, userID string) (plaintext, sessionID string) {
	t.Helper()
	secret, err := security.NewOpaqueSecret()
	if err != nil {
		t.Fatalf("NewOpaqueSecret: %v", err)
	}
	sess, err := f.store.SaveSession(t.Context(), userID, secret, sessionTTL, credential.RequestMeta{UserAgent: "test"})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	// Distinct creation times keep newest-first ordering unambiguous.
	f.clock.Advance(time.Second)
	return secret, sess.ID
}
