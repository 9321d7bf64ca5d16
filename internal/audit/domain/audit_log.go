package domain

import "time"

// AuditLog represents a security-relevant event on a user's credentials.
type AuditLog struct {
	ID        string
	UserID    string // empty when the actor is unknown, e.g. a failed login
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Actions recorded by the auth service.
const (
	ActionRegister         = "register"
	ActionLoginSuccess     = "login_success"
	ActionLoginFailure     = "login_failure"
	ActionLogout           = "logout"
	ActionLogoutAll        = "logout_all"
	ActionSessionExpired   = "session_expired"
	ActionPasswordChanged  = "password_changed"
	ActionPasswordResetReq = "password_reset_requested"
	ActionPasswordReset    = "password_reset"
	ActionVerificationReq  = "email_verification_requested"
	ActionEmailVerified    = "email_verified"
)

// Resources the actions apply to.
const (
	ResourceSession        = "session"
	ResourceUser           = "user"
	ResourceAuthentication = "authentication"
)
