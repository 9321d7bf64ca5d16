package repository

import (
	"context"
	"errors"
	"time"

	"account-platform/internal/user/domain"
)

// ErrDuplicateEmail is returned by Create when the email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, userID, hash string, at time.Time) error
	// SwapPasswordHash sets the hash only if the stored one still equals oldHash.
	// It returns false when the password changed in between.
	SwapPasswordHash(ctx context.Context, userID, oldHash, newHash string, at time.Time) (bool, error)
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
	// SetSingleUseToken replaces the token of the given kind unconditionally.
	SetSingleUseToken(ctx context.Context, userID string, kind domain.TokenKind, tok domain.SingleUseToken) error
	ClearSingleUseToken(ctx context.Context, userID string, kind domain.TokenKind) error
	// ConsumeSingleUseToken clears the token only if its stored hash still equals hash.
	// It returns false when another caller changed or cleared it first.
	ConsumeSingleUseToken(ctx context.Context, userID string, kind domain.TokenKind, hash string) (bool, error)
	// ListPendingTokens returns users holding a token of kind that has not expired at now.
	ListPendingTokens(ctx context.Context, kind domain.TokenKind, now time.Time) ([]*domain.User, error)
}
