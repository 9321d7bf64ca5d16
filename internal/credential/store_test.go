package credential_test

import (
	"errors"
	"testing"
	"time"

	"account-platform/internal/credential"
	"account-platform/internal/security"
	userdomain "account-platform/internal/user/domain"
)

func TestStore_SaveSession(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.addUser(t, "u1")
	start := f.clock.Now()

	sess, err := f.store.SaveSession(ctx, "u1", "secret-one", time.Hour, credential.RequestMeta{UserAgent: "ua", IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if !sess.ExpiresAt.Equal(start.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, start.Add(time.Hour))
	}
	if sess.TokenHash == "secret-one" || sess.TokenHash == "" {
		t.Fatalf("TokenHash must be a hash, got %q", sess.TokenHash)
	}
	if err := security.NewTestHasher().Compare(sess.TokenHash, []byte("secret-one")); err != nil {
		t.Errorf("stored hash does not verify plaintext: %v", err)
	}
	if sess.UserAgent != "ua" || sess.IPAddress != "10.0.0.1" || sess.Revoked {
		t.Errorf("unexpected session fields: %+v", sess)
	}

	if _, err := f.store.SaveSession(ctx, "u1", "secret-two", time.Hour, credential.RequestMeta{}); err != nil {
		t.Fatalf("second SaveSession: %v", err)
	}
	if n := len(f.mem.Sessions("u1")); n != 2 {
		t.Errorf("sessions = %d, want 2 (sessions accumulate)", n)
	}
}

func TestStore_SaveSession_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	if _, err := f.store.SaveSession(ctx, "u1", "s", 0, credential.RequestMeta{}); err == nil {
		t.Error("zero ttl should be rejected")
	}
	if _, err := f.store.SaveSession(ctx, "u1", "", time.Hour, credential.RequestMeta{}); err == nil {
		t.Error("empty secret should be rejected")
	}
	boom := errors.New("connection refused")
	f.mem.FailOn("sessions.Create", boom)
	_, err := f.store.SaveSession(ctx, "u1", "s", time.Hour, credential.RequestMeta{})
	if !errors.Is(err, credential.ErrUnavailable) || !errors.Is(err, boom) {
		t.Errorf("storage failure: err = %v, want ErrUnavailable wrapping cause", err)
	}
}

func TestStore_ListActiveSessionsForUser(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.addUser(t, "u1")
	f.addUser(t, "u2")

	_, expiring := f.login(t, "u1")
	revokedPlain, _ := f.login(t, "u1")
	_, newest := f.login(t, "u1")
	f.login(t, "u2")
	if _, err := f.revoker.RevokeOne(ctx, "u1", revokedPlain); err != nil {
		t.Fatalf("RevokeOne: %v", err)
	}

	active, err := f.store.ListActiveSessionsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActiveSessionsForUser: %v", err)
	}
	if len(active) != 2 || active[0].ID != newest || active[1].ID != expiring {
		t.Fatalf("active sessions = %+v, want [%s %s]", active, newest, expiring)
	}

	// Push past the first session's expiry but not the newest one's.
	f.clock.Advance(sessionTTL - 2*time.Second)
	active, err = f.store.ListActiveSessionsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActiveSessionsForUser: %v", err)
	}
	if len(active) != 1 || active[0].ID != newest {
		t.Fatalf("active after expiry = %+v, want only %s", active, newest)
	}
}

func TestStore_SetSingleUseToken_LastRequestWins(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.addUser(t, "u1")

	exp, err := f.store.SetSingleUseToken(ctx, "u1", userdomain.TokenKindPasswordReset, "first", time.Hour)
	if err != nil {
		t.Fatalf("SetSingleUseToken: %v", err)
	}
	if !exp.Equal(f.clock.Now().Add(time.Hour)) {
		t.Errorf("expiry = %v", exp)
	}
	if _, err := f.store.SetSingleUseToken(ctx, "u1", userdomain.TokenKindPasswordReset, "second", time.Hour); err != nil {
		t.Fatalf("SetSingleUseToken replace: %v", err)
	}
	u := f.mem.User("u1")
	if u.ResetToken == nil || u.VerifyToken != nil {
		t.Fatalf("token slots = reset %+v verify %+v", u.ResetToken, u.VerifyToken)
	}
	if err := security.NewTestHasher().Compare(u.ResetToken.Hash, []byte("second")); err != nil {
		t.Errorf("stored reset token is not the second one: %v", err)
	}

	if err := f.store.ClearSingleUseToken(ctx, "u1", userdomain.TokenKindPasswordReset); err != nil {
		t.Fatalf("ClearSingleUseToken: %v", err)
	}
	if f.mem.User("u1").ResetToken != nil {
		t.Error("token not cleared")
	}
}

func TestStore_SetSingleUseToken_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	if _, err := f.store.SetSingleUseToken(ctx, "ghost", userdomain.TokenKindPasswordReset, "x", time.Hour); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("unknown user: err = %v, want ErrNotFound", err)
	}
	if _, err := f.store.SetSingleUseToken(ctx, "ghost", "bogus", "x", time.Hour); !errors.Is(err, userdomain.ErrUnknownTokenKind) {
		t.Errorf("unknown kind: err = %v", err)
	}
	if err := f.store.ClearSingleUseToken(ctx, "ghost", userdomain.TokenKindEmailVerification); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("clear unknown user: err = %v, want ErrNotFound", err)
	}
}

func TestStore_SessionActive(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	secret, id := f.login(t, "u1")

	check := func(userID, sessionID string, want bool) {
		t.Helper()
		got, err := f.store.SessionActive(ctx, userID, sessionID)
		if err != nil {
			t.Fatalf("SessionActive(%q, %q): %v", userID, sessionID, err)
		}
		if got != want {
			t.Errorf("SessionActive(%q, %q) = %v, want %v", userID, sessionID, got, want)
		}
	}
	check("u1", id, true)
	check("u2", id, false)
	check("u1", "missing", false)
	check("", "", false)

	if _, err := f.revoker.RevokeOne(ctx, "u1", secret); err != nil {
		t.Fatalf("RevokeOne: %v", err)
	}
	check("u1", id, false)

	_, live := f.login(t, "u1")
	f.clock.Advance(sessionTTL + time.Second)
	check("u1", live, false)

	f.mem.FailOn("sessions.GetByID", errors.New("connection reset"))
	if _, err := f.store.SessionActive(ctx, "u1", live); !errors.Is(err, credential.ErrUnavailable) {
		t.Errorf("storage failure: want ErrUnavailable, got %v", err)
	}
}
