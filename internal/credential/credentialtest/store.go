// Package credentialtest provides an in-memory credential.UnitOfWork for tests.
package credentialtest

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"account-platform/internal/credential"
	sessiondomain "account-platform/internal/session/domain"
	userdomain "account-platform/internal/user/domain"
	userrepo "account-platform/internal/user/repository"
)

// Store keeps users and sessions in maps. WithinTx holds the store lock for the
// whole callback and restores a snapshot when the callback fails, so
// transactions are serialized and atomic.
type Store struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]sessionEntry
	users    map[string]*userdomain.User
	failures map[string]error
}

type sessionEntry struct {
	seq  int
	sess *sessiondomain.Session
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: map[string]sessionEntry{},
		users:    map[string]*userdomain.User{},
		failures: map[string]error{},
	}
}

// FailOn makes every call of op (for example "sessions.ListByUser") return err
// until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// PutUser stores a copy of u, replacing any user with the same ID.
func (s *Store) PutUser(u *userdomain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = cloneUser(u)
}

// User returns a copy of the stored user, or nil.
func (s *Store) User(id string) *userdomain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneUser(s.users[id])
}

// Session returns a copy of the stored session, or nil.
func (s *Store) Session(id string) *sessiondomain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(s.sessions[id].sess)
}

// Sessions returns copies of all of the user's sessions, newest first.
func (s *Store) Sessions(userID string) []*sessiondomain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listByUser(userID, 0)
}

func (s *Store) Repos() credential.Repos {
	return credential.Repos{Sessions: &sessionRepo{s: s, lock: true}, Users: &userRepo{s: s, lock: true}}
}

func (s *Store) WithinTx(ctx context.Context, fn func(r credential.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["tx"]; err != nil {
		return credential.WrapStorage("transaction", err)
	}
	snapSessions, snapUsers, snapSeq := s.snapshot()
	err := fn(credential.Repos{Sessions: &sessionRepo{s: s}, Users: &userRepo{s: s}})
	if err != nil {
		s.sessions, s.users, s.seq = snapSessions, snapUsers, snapSeq
	}
	return err
}

func (s *Store) snapshot() (map[string]sessionEntry, map[string]*userdomain.User, int) {
	sessions := make(map[string]sessionEntry, len(s.sessions))
	for k, e := range s.sessions {
		sessions[k] = sessionEntry{seq: e.seq, sess: cloneSession(e.sess)}
	}
	users := make(map[string]*userdomain.User, len(s.users))
	for k, u := range s.users {
		users[k] = cloneUser(u)
	}
	return sessions, users, s.seq
}

// guard takes the store lock when the repo is used outside a transaction.
func (s *Store) guard(lock bool) func() {
	if !lock {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) listByUser(userID string, limit int) []*sessiondomain.Session {
	var entries []sessionEntry
	for _, e := range s.sessions {
		if e.sess.UserID == userID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.sess.CreatedAt.Equal(b.sess.CreatedAt) {
			return a.sess.CreatedAt.After(b.sess.CreatedAt)
		}
		return a.seq > b.seq
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*sessiondomain.Session, len(entries))
	for i, e := range entries {
		out[i] = cloneSession(e.sess)
	}
	return out
}

type sessionRepo struct {
	s    *Store
	lock bool
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["sessions.GetByID"]; err != nil {
		return nil, err
	}
	return cloneSession(r.s.sessions[id].sess), nil
}

func (r *sessionRepo) Create(ctx context.Context, sess *sessiondomain.Session) error {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["sessions.Create"]; err != nil {
		return err
	}
	r.s.seq++
	r.s.sessions[sess.ID] = sessionEntry{seq: r.s.seq, sess: cloneSession(sess)}
	return nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*sessiondomain.Session, error) {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["sessions.ListByUser"]; err != nil {
		return nil, err
	}
	return r.s.listByUser(userID, limit), nil
}

func (r *sessionRepo) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["sessions.Revoke"]; err != nil {
		return false, err
	}
	e, ok := r.s.sessions[id]
	if !ok || e.sess.Revoked {
		return false, nil
	}
	revokeAt(e.sess, at)
	return true, nil
}

func (r *sessionRepo) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error) {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["sessions.RevokeAllByUser"]; err != nil {
		return 0, err
	}
	n := 0
	for _, e := range r.s.sessions {
		if e.sess.UserID == userID && !e.sess.Revoked {
			revokeAt(e.sess, at)
			n++
		}
	}
	return n, nil
}

func revokeAt(sess *sessiondomain.Session, at time.Time) {
	sess.Revoked = true
	sess.RevokedAt = &at
}

type userRepo struct {
	s    *Store
	lock bool
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["users.GetByID"]; err != nil {
		return nil, err
	}
	return cloneUser(r.s.users[id]), nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["users.GetByEmail"]; err != nil {
		return nil, err
	}
	email = userdomain.NormalizeEmail(email)
	for _, u := range r.s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *userRepo) Create(ctx context.Context, u *userdomain.User) error {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["users.Create"]; err != nil {
		return err
	}
	if err := u.Validate(); err != nil {
		return err
	}
	c := cloneUser(u)
	c.Email = userdomain.NormalizeEmail(c.Email)
	for _, existing := range r.s.users {
		if existing.Email == c.Email {
			return userrepo.ErrDuplicateEmail
		}
	}
	r.s.users[c.ID] = c
	return nil
}

// update applies fn to the stored user, or returns sql.ErrNoRows like the Postgres repository.
func (r *userRepo) update(op, userID string, fn func(u *userdomain.User)) error {
	defer r.s.guard(r.lock)()
	if err := r.s.failures[op]; err != nil {
		return err
	}
	u, ok := r.s.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	fn(u)
	return nil
}

func (r *userRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	return r.update("users.UpdatePasswordHash", userID, func(u *userdomain.User) {
		u.PasswordHash = hash
		u.UpdatedAt = at
	})
}

func (r *userRepo) SwapPasswordHash(ctx context.Context, userID, oldHash, newHash string, at time.Time) (bool, error) {
	defer r.s.guard(r.lock)()
	if err := r.s.failures["users.SwapPasswordHash"]; err != nil {
		return false, err
	}
	u, ok := r.s.users[userID]
	if !ok || u.PasswordHash != oldHash {
		return false, nil
	}
	u.PasswordHash = newHash
	u.UpdatedAt = at
	return true, nil
}

func (r *userRepo) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return r.update("users.MarkEmailVerified", userID, func(u *userdomain.User) {
		u.EmailVerified = true
		u.UpdatedAt = at
	})
}

func (r *userRepo) SetSingleUseToken(ctx context.Context, userID string, kind userdomain.TokenKind, tok userdomain.SingleUseToken) error {
	if !kind.Valid() {
		return userdomain.ErrUnknownTokenKind
	}
	return r.update("users.SetSingleUseToken", userID, func(u *userdomain.User) {
		_ = u.SetToken(kind, &tok)
	})
}

func (r *userRepo) ClearSingleUseToken(ctx context.Context, userID string, kind userdomain.TokenKind) error {
	if !kind.Valid() {
		return userdomain.ErrUnknownTokenKind
	}
	return r.update("users.ClearSingleUseToken", userID, func(u *userdomain.User) {
		_ = u.SetToken(kind, nil)
	})
}

func (r *userRepo) ConsumeSingleUseToken(ctx context.Context, userID string, kind userdomain.TokenKind, hash string) (bool, error) {
	if !kind.Valid() {
		return false, userdomain.ErrUnknownTokenKind
	}
	defer r.s.guard(r.lock)()
	if err := r.s.failures["users.ConsumeSingleUseToken"]; err != nil {
		return false, err
	}
	u, ok := r.s.users[userID]
	if !ok {
		return false, nil
	}
	tok := u.Token(kind)
	if tok == nil || tok.Hash != hash {
		return false, nil
	}
	_ = u.SetToken(kind, nil)
	return true, nil
}

func (r *userRepo) ListPendingTokens(ctx context.Context, kind userdomain.TokenKind, now time.Time) ([]*userdomain.User, error) {
	if !kind.Valid() {
		return nil, userdomain.ErrUnknownTokenKind
	}
	defer r.s.guard(r.lock)()
	if err := r.s.failures["users.ListPendingTokens"]; err != nil {
		return nil, err
	}
	var out []*userdomain.User
	for _, u := range r.s.users {
		if tok := u.Token(kind); tok != nil && !tok.ExpiredAt(now) {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Token(kind).ExpiresAt.After(out[j].Token(kind).ExpiresAt)
	})
	return out, nil
}

func cloneSession(s *sessiondomain.Session) *sessiondomain.Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

func cloneUser(u *userdomain.User) *userdomain.User {
	if u == nil {
		return nil
	}
	c := *u
	if u.ResetToken != nil {
		t := *u.ResetToken
		c.ResetToken = &t
	}
	if u.VerifyToken != nil {
		t := *u.VerifyToken
		c.VerifyToken = &t
	}
	return &c
}
