package credential_test

import (
	"errors"
	"testing"

	"account-platform/internal/credential"
)

func TestRevokeOne(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.addUser(t, "u1")
	p1, s1 := f.login(t, "u1")
	p2, s2 := f.login(t, "u1")

	revoked, err := f.revoker.RevokeOne(ctx, "u1", p1)
	if err != nil {
		t.Fatalf("RevokeOne: %v", err)
	}
	if revoked.ID != s1 || !revoked.Revoked || revoked.RevokedAt == nil || !revoked.RevokedAt.Equal(f.clock.Now()) {
		t.Errorf("RevokeOne returned %+v", revoked)
	}
	if got := f.mem.Session(s1); !got.Revoked {
		t.Error("revocation not persisted")
	}
	if got := f.mem.Session(s2); got.Revoked {
		t.Error("revoking one session affected another")
	}
	if _, err := f.verifier.VerifySession(ctx, "u1", p2, false); err != nil {
		t.Errorf("other session no longer verifies: %v", err)
	}

	if _, err := f.revoker.RevokeOne(ctx, "u1", p1); !errors.Is(err, credential.ErrAlreadyRevoked) {
		t.Errorf("second RevokeOne: err = %v, want ErrAlreadyRevoked", err)
	}
	if _, err := f.revoker.RevokeOne(ctx, "u1", "unknown"); !errors.Is(err, credential.ErrInvalidRefreshToken) {
		t.Errorf("unknown secret: err = %v, want ErrInvalidRefreshToken", err)
	}
}

func TestRevokeOne_StorageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.addUser(t, "u1")
	p1, s1 := f.login(t, "u1")
	boom := errors.New("disk full")
	f.mem.FailOn("sessions.Revoke", boom)

	if _, err := f.revoker.RevokeOne(ctx, "u1", p1); !errors.Is(err, credential.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if f.mem.Session(s1).Revoked {
		t.Error("failed revoke must not be persisted")
	}
}

func TestRevokeAll(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.addUser(t, "u1")
	f.addUser(t, "u2")
	p1, _ := f.login(t, "u1")
	f.login(t, "u1")
	already, _ := f.login(t, "u1")
	other, _ := f.login(t, "u2")
	if _, err := f.revoker.RevokeOne(ctx, "u1", already); err != nil {
		t.Fatal(err)
	}

	n, err := f.revoker.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 2 {
		t.Errorf("RevokeAll revoked %d, want 2 (already revoked sessions untouched)", n)
	}
	for _, s := range f.mem.Sessions("u1") {
		if !s.Revoked {
			t.Errorf("session %s not revoked", s.ID)
		}
	}
	if _, err := f.refresh.Refresh(ctx, "u1", p1); !errors.Is(err, credential.ErrAlreadyRevoked) {
		t.Errorf("refresh after RevokeAll: err = %v, want ErrAlreadyRevoked", err)
	}
	if _, err := f.refresh.Refresh(ctx, "u2", other); err != nil {
		t.Errorf("other user's refresh affected: %v", err)
	}

	n, err = f.revoker.RevokeAll(ctx, "u1")
	if err != nil || n != 0 {
		t.Errorf("second RevokeAll = %d, %v; want 0, nil", n, err)
	}
}
