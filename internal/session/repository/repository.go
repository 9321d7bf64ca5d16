package repository

import (
	"context"
	"time"

	"account-platform/internal/session/domain"
)

// Repository defines persistence for sessions. Sessions are never deleted.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// ListByUser returns up to limit sessions for the user, revoked ones included, newest first.
	// limit <= 0 means no limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Revoke marks the session revoked at the given time. It returns false when the
	// session does not exist or was already revoked.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RevokeAllByUser revokes every non-revoked session of the user and returns how many changed.
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error)
}
