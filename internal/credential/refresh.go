package credential

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"account-platform/internal/security"
	sessiondomain "account-platform/internal/session/domain"
	userdomain "account-platform/internal/user/domain"
)

// AccessIssuer signs access tokens.
type AccessIssuer interface {
	IssueAccess(userID, role, sessionID string, extra map[string]any, ttl time.Duration) (token, jti string, expiresAt time.Time, err error)
}

// RefreshResult is the outcome of a successful refresh. RefreshToken and the
// new Session differ from the presented ones only when rotation is enabled.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	Session         *sessiondomain.Session
	Rotated         bool
}

// RefreshPolicy drives the ACTIVE -> EXPIRED -> REVOKED session state machine
// when a refresh secret is presented.
type RefreshPolicy struct {
	uow        UnitOfWork
	verifier   *Verifier
	store      *Store
	tokens     AccessIssuer
	refreshTTL time.Duration
	opts       options
	inst       *instruments
}

// NewRefreshPolicy returns a RefreshPolicy. refreshTTL is the lifetime of
// sessions created by rotation.
func NewRefreshPolicy(uow UnitOfWork, verifier *Verifier, store *Store, tokens AccessIssuer, refreshTTL time.Duration, opts ...Option) *RefreshPolicy {
	return &RefreshPolicy{
		uow:        uow,
		verifier:   verifier,
		store:      store,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		opts:       buildOptions(opts),
		inst:       newInstruments(),
	}
}

// Rotation reports whether refresh rotates the refresh secret.
func (p *RefreshPolicy) Rotation() bool {
	return p.opts.rotation
}

// Refresh issues a new access token for the session matching plaintext.
//
// A revoked session fails with ErrAlreadyRevoked. An expired session is revoked
// and that revocation is committed before the call fails with ErrSessionExpired,
// so the same secret yields ErrAlreadyRevoked from then on. An active session
// yields a new access token for the same user and role; with rotation the
// presented session is revoked and replaced in the same transaction.
func (p *RefreshPolicy) Refresh(ctx context.Context, userID, plaintext string) (*RefreshResult, error) {
	ctx, span := p.inst.tracer.Start(ctx, "credential.Refresh")
	defer span.End()
	span.SetAttributes(attribute.Bool("credential.rotation", p.opts.rotation))

	var (
		result  *RefreshResult
		expired bool
	)
	err := p.uow.WithinTx(ctx, func(r Repos) error {
		sess, err := p.verifier.VerifySessionTx(ctx, r, userID, plaintext, false)
		if err != nil {
			return err
		}
		now := p.opts.now()
		switch sess.StateAt(now) {
		case sessiondomain.StateRevoked:
			return ErrAlreadyRevoked
		case sessiondomain.StateExpired:
			if _, err := r.Sessions.Revoke(ctx, sess.ID, now); err != nil {
				return WrapStorage("revoke expired session", err)
			}
			expired = true
			return nil
		}

		u, err := r.Users.GetByID(ctx, sess.UserID)
		if err != nil {
			return WrapStorage("load user", err)
		}
		// Disabled accounts stop minting access tokens even with a live session.
		if u == nil || u.Status != userdomain.UserStatusActive {
			return ErrInvalidRefreshToken
		}

		res := &RefreshResult{Session: sess}
		if p.opts.rotation {
			ok, err := r.Sessions.Revoke(ctx, sess.ID, now)
			if err != nil {
				return WrapStorage("revoke rotated session", err)
			}
			if !ok {
				return ErrAlreadyRevoked
			}
			secret, err := security.NewOpaqueSecret()
			if err != nil {
				return err
			}
			next, err := p.store.SaveSessionTx(ctx, r, u.ID, secret, p.refreshTTL,
				RequestMeta{UserAgent: sess.UserAgent, IPAddress: sess.IPAddress})
			if err != nil {
				return err
			}
			res.Session, res.RefreshToken, res.Rotated = next, secret, true
		}
		access, _, exp, err := p.tokens.IssueAccess(u.ID, u.Role, res.Session.ID, nil, 0)
		if err != nil {
			return err
		}
		res.AccessToken, res.AccessExpiresAt = access, exp
		result = res
		return nil
	})
	switch {
	case err != nil:
		span.RecordError(err)
		p.inst.recordRefresh(ctx, outcome(err))
		return nil, err
	case expired:
		p.inst.recordRefresh(ctx, "expired")
		return nil, ErrSessionExpired
	}
	p.inst.recordRefresh(ctx, "ok")
	return result, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyRevoked):
		return "revoked"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid"
	default:
		return "error"
	}
}
