package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"account-platform/internal/security"
	sessiondomain "account-platform/internal/session/domain"
	userdomain "account-platform/internal/user/domain"
)

// RequestMeta is the sign-in metadata recorded on a session.
type RequestMeta struct {
	UserAgent string
	IPAddress string
}

// Store persists refresh-token sessions and the single outstanding
// reset/verification token per user. Only hashes are stored.
type Store struct {
	uow    UnitOfWork
	hasher security.SecretHasher
	opts   options
}

// NewStore returns a Store that hashes with hasher and persists through uow.
func NewStore(uow UnitOfWork, hasher security.SecretHasher, opts ...Option) *Store {
	return &Store{uow: uow, hasher: hasher, opts: buildOptions(opts)}
}

// SaveSession hashes plaintext and inserts a new session expiring ttl from now.
// Existing sessions are never overwritten.
func (s *Store) SaveSession(ctx context.Context, userID, plaintext string, ttl time.Duration, meta RequestMeta) (*sessiondomain.Session, error) {
	return s.SaveSessionTx(ctx, s.uow.Repos(), userID, plaintext, ttl, meta)
}

// SaveSessionTx is SaveSession against repositories bound to the caller's transaction.
func (s *Store) SaveSessionTx(ctx context.Context, r Repos, userID, plaintext string, ttl time.Duration, meta RequestMeta) (*sessiondomain.Session, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	if plaintext == "" {
		return nil, errors.New("refresh secret is empty")
	}
	hash, err := s.hasher.Hash([]byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("hash refresh secret: %w", err)
	}
	now := s.opts.now()
	sess := &sessiondomain.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		CreatedAt: now,
	}
	if err := r.Sessions.Create(ctx, sess); err != nil {
		return nil, WrapStorage("save session", err)
	}
	return sess, nil
}

// ListActiveSessionsForUser returns the user's non-revoked, non-expired sessions, newest first.
func (s *Store) ListActiveSessionsForUser(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	all, err := s.uow.Repos().Sessions.ListByUser(ctx, userID, 0)
	if err != nil {
		return nil, WrapStorage("list sessions", err)
	}
	now := s.opts.now()
	active := make([]*sessiondomain.Session, 0, len(all))
	for _, sess := range all {
		if sess.StateAt(now) == sessiondomain.StateActive {
			active = append(active, sess)
		}
	}
	return active, nil
}

// SessionActive reports whether sessionID names a non-revoked, unexpired session of userID.
// Access tokens carry the session ID, so this lets a request be refused once its session is revoked.
func (s *Store) SessionActive(ctx context.Context, userID, sessionID string) (bool, error) {
	if userID == "" || sessionID == "" {
		return false, nil
	}
	sess, err := s.uow.Repos().Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, WrapStorage("load session", err)
	}
	if sess == nil || sess.UserID != userID {
		return false, nil
	}
	return sess.StateAt(s.opts.now()) == sessiondomain.StateActive, nil
}

// SetSingleUseToken hashes plaintext and stores it as the user's token of kind,
// replacing any outstanding one. It returns the new expiry.
func (s *Store) SetSingleUseToken(ctx context.Context, userID string, kind userdomain.TokenKind, plaintext string, ttl time.Duration) (time.Time, error) {
	if !kind.Valid() {
		return time.Time{}, userdomain.ErrUnknownTokenKind
	}
	if ttl <= 0 {
		return time.Time{}, fmt.Errorf("%s ttl must be positive, got %s", kind, ttl)
	}
	if plaintext == "" {
		return time.Time{}, errors.New("token secret is empty")
	}
	hash, err := s.hasher.Hash([]byte(plaintext))
	if err != nil {
		return time.Time{}, fmt.Errorf("hash %s token: %w", kind, err)
	}
	tok := userdomain.SingleUseToken{Hash: hash, ExpiresAt: s.opts.now().Add(ttl)}
	if err := s.uow.Repos().Users.SetSingleUseToken(ctx, userID, kind, tok); err != nil {
		return time.Time{}, notFoundOrStorage("set "+string(kind)+" token", err)
	}
	return tok.ExpiresAt, nil
}

// ClearSingleUseToken removes the user's token of kind, if any.
func (s *Store) ClearSingleUseToken(ctx context.Context, userID string, kind userdomain.TokenKind) error {
	if !kind.Valid() {
		return userdomain.ErrUnknownTokenKind
	}
	if err := s.uow.Repos().Users.ClearSingleUseToken(ctx, userID, kind); err != nil {
		return notFoundOrStorage("clear "+string(kind)+" token", err)
	}
	return nil
}

// notFoundOrStorage maps a missing user row to ErrNotFound.
func notFoundOrStorage(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return WrapStorage(op, err)
}
