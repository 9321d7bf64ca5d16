package credential

import (
	"context"

	sessiondomain "account-platform/internal/session/domain"
)

// Revoker revokes one session by its refresh secret or every session of a user.
type Revoker struct {
	uow      UnitOfWork
	verifier *Verifier
	opts     options
}

// NewRevoker returns a Revoker that locates sessions through verifier.
func NewRevoker(uow UnitOfWork, verifier *Verifier, opts ...Option) *Revoker {
	return &Revoker{uow: uow, verifier: verifier, opts: buildOptions(opts)}
}

// RevokeOne revokes the session matching plaintext. It fails with
// ErrInvalidRefreshToken when nothing matches and ErrAlreadyRevoked when the
// match was already revoked, including by a concurrent caller.
func (rv *Revoker) RevokeOne(ctx context.Context, userID, plaintext string) (*sessiondomain.Session, error) {
	var revoked *sessiondomain.Session
	err := rv.uow.WithinTx(ctx, func(r Repos) error {
		sess, err := rv.verifier.VerifySessionTx(ctx, r, userID, plaintext, false)
		if err != nil {
			return err
		}
		at := rv.opts.now()
		ok, err := r.Sessions.Revoke(ctx, sess.ID, at)
		if err != nil {
			return WrapStorage("revoke session", err)
		}
		if !ok {
			return ErrAlreadyRevoked
		}
		sess.Revoked = true
		sess.RevokedAt = &at
		revoked = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// RevokeAll revokes every non-revoked session of the user in one batch and
// returns how many were revoked.
func (rv *Revoker) RevokeAll(ctx context.Context, userID string) (int, error) {
	return rv.RevokeAllTx(ctx, rv.uow.Repos(), userID)
}

// RevokeAllTx is RevokeAll inside the caller's transaction, so a password
// change and the revocation commit together.
func (rv *Revoker) RevokeAllTx(ctx context.Context, r Repos, userID string) (int, error) {
	n, err := r.Sessions.RevokeAllByUser(ctx, userID, rv.opts.now())
	if err != nil {
		return 0, WrapStorage("revoke all sessions", err)
	}
	return n, nil
}
