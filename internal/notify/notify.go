// Package notify delivers messages that carry a plaintext single-use token to a
// user's email address. Delivery is best effort: a failed send never undoes a
// persisted token, the user can request a new one.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind selects the message template.
type Kind string

const (
	KindPasswordReset     Kind = "password_reset"
	KindEmailVerification Kind = "email_verification"
)

// Message is one notification. Token is the plaintext secret and must not be logged.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage returns a Message with a fresh ID and CreatedAt set to now.
func NewMessage(kind Kind, userID, email, name, token string, expiresAt time.Time) Message {
	return Message{
		ID:        uuid.New().String(),
		Kind:      kind,
		UserID:    userID,
		Email:     email,
		Name:      name,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

// ErrInvalidMessage is returned for messages missing a kind, recipient or token.
var ErrInvalidMessage = errors.New("notify: invalid message")

// Validate checks the fields every transport needs.
func (m Message) Validate() error {
	switch {
	case m.Kind != KindPasswordReset && m.Kind != KindEmailVerification:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	case m.Email == "":
		return fmt.Errorf("%w: email is required", ErrInvalidMessage)
	case m.Token == "":
		return fmt.Errorf("%w: token is required", ErrInvalidMessage)
	}
	return nil
}

// Encode serializes m as the JSON wire format shared by the queue transports.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates a message produced by Encode.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, m.Validate()
}

// Notifier sends a message to its recipient.
type Notifier interface {
	Send(ctx context.Context, m Message) error
	// Close releases transport resources. Safe to call more than once.
	Close() error
}
