package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"account-platform/internal/security"
	sessiondomain "account-platform/internal/session/domain"
	userdomain "account-platform/internal/user/domain"
)

// Verifier finds the stored record matching a presented plaintext by scanning
// the candidate set and comparing against each stored hash. Tokens are never
// stored in a form that allows an indexed lookup, so cost is one slow compare
// per candidate.
type Verifier struct {
	uow    UnitOfWork
	hasher security.SecretHasher
	opts   options
	inst   *instruments
}

// NewVerifier returns a Verifier comparing with hasher.
func NewVerifier(uow UnitOfWork, hasher security.SecretHasher, opts ...Option) *Verifier {
	return &Verifier{uow: uow, hasher: hasher, opts: buildOptions(opts), inst: newInstruments()}
}

// VerifySession returns the user's session whose hash matches plaintext.
//
// Sessions are compared newest first and the first non-revoked match wins. A
// revoked match fails with ErrAlreadyRevoked unless allowRevoked is set, in
// which case the scan goes on through older sessions for a live match and
// otherwise returns the newest revoked match. No match is ErrInvalidRefreshToken,
// whether or not the user exists.
func (v *Verifier) VerifySession(ctx context.Context, userID, plaintext string, allowRevoked bool) (*sessiondomain.Session, error) {
	return v.VerifySessionTx(ctx, v.uow.Repos(), userID, plaintext, allowRevoked)
}

// VerifySessionTx is VerifySession against repositories bound to the caller's transaction.
func (v *Verifier) VerifySessionTx(ctx context.Context, r Repos, userID, plaintext string, allowRevoked bool) (*sessiondomain.Session, error) {
	ctx, span := v.inst.tracer.Start(ctx, "credential.VerifySession")
	defer span.End()

	if userID == "" || plaintext == "" {
		return nil, ErrInvalidRefreshToken
	}
	sessions, err := r.Sessions.ListByUser(ctx, userID, v.opts.scanLimit)
	if err != nil {
		span.RecordError(err)
		return nil, WrapStorage("list sessions", err)
	}

	var revokedMatch *sessiondomain.Session
	compares := 0
	defer func() {
		span.SetAttributes(attribute.Int("credential.candidates", len(sessions)), attribute.Int("credential.compares", compares))
		v.inst.recordCompares(ctx, "session", compares)
	}()
	for _, sess := range sessions {
		compares++
		if !v.matches(ctx, sess.TokenHash, plaintext, "session_id", sess.ID) {
			continue
		}
		if !sess.Revoked {
			return sess, nil
		}
		if !allowRevoked {
			return nil, ErrAlreadyRevoked
		}
		if revokedMatch == nil {
			revokedMatch = sess
		}
	}
	if revokedMatch != nil {
		return revokedMatch, nil
	}
	return nil, ErrInvalidRefreshToken
}

// VerifySingleUseToken returns the user holding an unexpired token of kind that
// matches plaintext, with the token's expiry. Wrong, expired and unknown tokens
// all fail with ErrInvalidOrExpiredToken.
func (v *Verifier) VerifySingleUseToken(ctx context.Context, kind userdomain.TokenKind, plaintext string) (*userdomain.User, time.Time, error) {
	u, err := v.findSingleUseToken(ctx, v.uow.Repos(), kind, plaintext)
	if err != nil {
		return nil, time.Time{}, err
	}
	return u, u.Token(kind).ExpiresAt, nil
}

// ConsumeSingleUseTokenTx verifies plaintext and clears the matched token with a
// compare-and-clear on the stored hash. When a concurrent caller consumed or
// replaced the token first, the loser gets ErrInvalidOrExpiredToken.
func (v *Verifier) ConsumeSingleUseTokenTx(ctx context.Context, r Repos, kind userdomain.TokenKind, plaintext string) (*userdomain.User, error) {
	u, err := v.findSingleUseToken(ctx, r, kind, plaintext)
	if err != nil {
		return nil, err
	}
	ok, err := r.Users.ConsumeSingleUseToken(ctx, u.ID, kind, u.Token(kind).Hash)
	if err != nil {
		return nil, WrapStorage("consume "+string(kind)+" token", err)
	}
	if !ok {
		return nil, ErrInvalidOrExpiredToken
	}
	return u, nil
}

func (v *Verifier) findSingleUseToken(ctx context.Context, r Repos, kind userdomain.TokenKind, plaintext string) (*userdomain.User, error) {
	ctx, span := v.inst.tracer.Start(ctx, "credential.VerifySingleUseToken")
	defer span.End()
	span.SetAttributes(attribute.String("credential.kind", string(kind)))

	if !kind.Valid() || plaintext == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	now := v.opts.now()
	candidates, err := r.Users.ListPendingTokens(ctx, kind, now)
	if err != nil {
		span.RecordError(err)
		return nil, WrapStorage("list pending "+string(kind)+" tokens", err)
	}

	compares := 0
	defer func() {
		span.SetAttributes(attribute.Int("credential.candidates", len(candidates)), attribute.Int("credential.compares", compares))
		v.inst.recordCompares(ctx, string(kind), compares)
	}()
	for _, u := range candidates {
		tok := u.Token(kind)
		if tok == nil || tok.ExpiredAt(now) {
			continue
		}
		compares++
		if v.matches(ctx, tok.Hash, plaintext, "user_id", u.ID) {
			return u, nil
		}
	}
	return nil, ErrInvalidOrExpiredToken
}

// matches compares plaintext against hash. A malformed stored hash counts as a
// mismatch and is logged so one bad row cannot block the scan.
func (v *Verifier) matches(ctx context.Context, hash, plaintext, idKey, id string) bool {
	err := v.hasher.Compare(hash, []byte(plaintext))
	if err == nil {
		return true
	}
	if !errors.Is(err, security.ErrMismatch) {
		slog.WarnContext(ctx, "skipping unreadable token hash", idKey, id, "error", err)
	}
	return false
}
