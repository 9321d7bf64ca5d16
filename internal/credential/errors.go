package credential

import (
	"errors"
	"fmt"
)

// Sentinel errors for the credential subsystem; the transport maps them to status codes.
// Verification failures are deliberately coarse so callers cannot enumerate users or tokens.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidRefreshToken   = errors.New("invalid refresh token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrAlreadyRevoked        = errors.New("token already revoked, log in again")
	ErrSessionExpired        = errors.New("session expired, log in again")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrConflict              = errors.New("conflict")
	ErrUnavailable           = errors.New("credential storage unavailable")
)

// IsUnauthorized reports whether err should be presented to the caller as an
// authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidRefreshToken) ||
		errors.Is(err, ErrInvalidOrExpiredToken) ||
		errors.Is(err, ErrAlreadyRevoked) ||
		errors.Is(err, ErrSessionExpired)
}

// WrapStorage classifies err from a storage call made during op. Errors of this
// package pass through unchanged; anything else is a transient infrastructure
// failure and is wrapped so that errors.Is(err, ErrUnavailable) holds while the
// cause stays inspectable.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrUnavailable, ErrNotFound, ErrConflict, ErrUnauthorized,
		ErrInvalidRefreshToken, ErrInvalidOrExpiredToken, ErrAlreadyRevoked, ErrSessionExpired} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
