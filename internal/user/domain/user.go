package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the core user entity. The credential subsystem reads it and updates
// the password hash, the verification flag and the single-use token fields.
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	Role          string
	Status        UserStatus
	EmailVerified bool
	ResetToken    *SingleUseToken // outstanding password-reset token, nil when none
	VerifyToken   *SingleUseToken // outstanding email-verification token, nil when none
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// RoleUser is assigned at registration.
const RoleUser = "user"

// SingleUseToken is the hashed secret and expiry of a one-shot token. Both
// fields are set together; a nil *SingleUseToken means no token is outstanding.
type SingleUseToken struct {
	Hash      string
	ExpiresAt time.Time
}

// ExpiredAt reports whether the token can no longer be used at now.
func (t *SingleUseToken) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TokenKind names one of the single-use token slots on the user record.
type TokenKind string

const (
	TokenKindPasswordReset     TokenKind = "password_reset"
	TokenKindEmailVerification TokenKind = "email_verification"
)

// ErrUnknownTokenKind is returned for a TokenKind outside the defined set.
var ErrUnknownTokenKind = errors.New("unknown token kind")

// Valid reports whether k is a defined kind.
func (k TokenKind) Valid() bool {
	return k == TokenKindPasswordReset || k == TokenKindEmailVerification
}

// Token returns the outstanding token of the given kind, or nil.
func (u *User) Token(kind TokenKind) *SingleUseToken {
	switch kind {
	case TokenKindPasswordReset:
		return u.ResetToken
	case TokenKindEmailVerification:
		return u.VerifyToken
	default:
		return nil
	}
}

// SetToken replaces the token slot of the given kind; t may be nil to clear it.
func (u *User) SetToken(kind TokenKind, t *SingleUseToken) error {
	switch kind {
	case TokenKindPasswordReset:
		u.ResetToken = t
	case TokenKindEmailVerification:
		u.VerifyToken = t
	default:
		return ErrUnknownTokenKind
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}
