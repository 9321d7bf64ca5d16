package notify

import (
	"context"
	"sync"
	"time"
)

// Outbox keeps the latest message per (email, kind) in memory so a developer can
// read the plaintext token back. Development only; config refuses it in production.
type Outbox struct {
	mu   sync.RWMutex
	m    map[outboxKey]Message
	nowF func() time.Time
}

type outboxKey struct {
	email string
	kind  Kind
}

// NewOutbox returns an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{
		m:    make(map[outboxKey]Message),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Send stores m, replacing any earlier message of the same kind for the same email.
func (o *Outbox) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m[outboxKey{m.Email, m.Kind}] = m
	return nil
}

// Latest returns the last message of kind sent to email if its token has not expired.
func (o *Outbox) Latest(email string, kind Kind) (Message, bool) {
	k := outboxKey{email, kind}
	o.mu.RLock()
	m, ok := o.m[k]
	o.mu.RUnlock()
	if !ok {
		return Message{}, false
	}
	if !m.ExpiresAt.IsZero() && !m.ExpiresAt.After(o.nowF()) {
		o.mu.Lock()
		delete(o.m, k)
		o.mu.Unlock()
		return Message{}, false
	}
	return m, true
}

// Len returns the number of held messages.
func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.m)
}

func (o *Outbox) Close() error { return nil }
