package telemetry

import (
	"context"
	"time"
)

// Event is one credential lifecycle or request event.
type Event struct {
	Type      string
	UserID    string
	SessionID string
	Source    string
	Metadata  []byte // JSON, optional
	CreatedAt time.Time
}

// Event types.
const (
	EventSessionCreated    = "session_created"
	EventSessionRefreshed  = "session_refreshed"
	EventSessionRotated    = "session_rotated"
	EventSessionRevoked    = "session_revoked"
	EventSessionsRevoked   = "sessions_revoked_all"
	EventSessionExpired    = "session_expired"
	EventPasswordChanged   = "password_changed"
	EventPasswordReset     = "password_reset"
	EventEmailVerified     = "email_verified"
	EventNotificationError = "notification_failed"
	EventGRPCRequest       = "grpc_request"
)

// EventEmitter emits events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
