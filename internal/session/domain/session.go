package domain

import "time"

// State is the lifecycle state of a session at a point in time.
type State string

const (
	// StateActive sessions are not revoked and not past expiry; only they can be refreshed.
	StateActive State = "ACTIVE"
	// StateExpired sessions are not revoked but past expiry.
	StateExpired State = "EXPIRED"
	// StateRevoked is terminal.
	StateRevoked State = "REVOKED"
)

// Session is one device's long-lived refresh credential. TokenHash is a slow
// salted hash of the refresh plaintext; the plaintext is never stored.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time // set together with Revoked
	UserAgent string
	IPAddress string
	CreatedAt time.Time
}

// StateAt returns the session state at now. A session is expired only when now is after ExpiresAt.
func (s *Session) StateAt(now time.Time) State {
	switch {
	case s.Revoked:
		return StateRevoked
	case now.After(s.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}
