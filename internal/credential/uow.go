package credential

import (
	"context"
	"database/sql"
	"time"

	"account-platform/internal/db"
	sessiondomain "account-platform/internal/session/domain"
	sessionrepo "account-platform/internal/session/repository"
	userdomain "account-platform/internal/user/domain"
	userrepo "account-platform/internal/user/repository"
)

// SessionRepo is the session persistence the credential subsystem needs.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*sessiondomain.Session, error)
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error)
}

// UserRepo is the user directory the credential subsystem needs.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
	SwapPasswordHash(ctx context.Context, userID, oldHash, newHash string, at time.Time) (bool, error)
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
	SetSingleUseToken(ctx context.Context, userID string, kind userdomain.TokenKind, tok userdomain.SingleUseToken) error
	ClearSingleUseToken(ctx context.Context, userID string, kind userdomain.TokenKind) error
	ConsumeSingleUseToken(ctx context.Context, userID string, kind userdomain.TokenKind, hash string) (bool, error)
	ListPendingTokens(ctx context.Context, kind userdomain.TokenKind, now time.Time) ([]*userdomain.User, error)
}

// Repos bundles the repositories bound to one connection or transaction.
type Repos struct {
	Sessions SessionRepo
	Users    UserRepo
}

// UnitOfWork hands out repositories and runs multi-step mutations atomically.
type UnitOfWork interface {
	// Repos returns repositories that auto-commit each statement.
	Repos() Repos
	// WithinTx runs fn with repositories bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(r Repos) error) error
}

// PostgresUnitOfWork implements UnitOfWork over database/sql.
type PostgresUnitOfWork struct {
	db *sql.DB
}

// NewPostgresUnitOfWork returns a UnitOfWork backed by the given pool.
func NewPostgresUnitOfWork(conn *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: conn}
}

func (u *PostgresUnitOfWork) Repos() Repos {
	return reposFor(u.db)
}

// WithinTx returns fn's error unchanged. Begin and commit failures are wrapped in ErrUnavailable.
func (u *PostgresUnitOfWork) WithinTx(ctx context.Context, fn func(r Repos) error) error {
	var fnErr error
	err := db.RunInTx(ctx, u.db, func(tx *sql.Tx) error {
		fnErr = fn(reposFor(tx))
		return fnErr
	})
	if err != nil && fnErr == nil {
		return WrapStorage("transaction", err)
	}
	return err
}

func reposFor(conn db.DBTX) Repos {
	return Repos{
		Sessions: sessionrepo.NewPostgresRepository(conn),
		Users:    userrepo.NewPostgresRepository(conn),
	}
}
