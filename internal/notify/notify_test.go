package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func testMessage() Message {
	return NewMessage(KindPasswordReset, "u1", "u1@example.com", "U One", "plaintext-secret", time.Now().Add(time.Hour))
}

func TestMessage_Validate(t *testing.T) {
	if err := testMessage().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*Message)
	}{
		{"unknown kind", func(m *Message) { m.Kind = "welcome" }},
		{"no email", func(m *Message) { m.Email = "" }},
		{"no token", func(m *Message) { m.Token = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMessage()
			tt.mutate(&m)
			if err := m.Validate(); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("err = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	m := testMessage()
	raw, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != m.ID || got.Token != m.Token || got.Kind != m.Kind {
		t.Errorf("Decode = %+v", got)
	}
	if _, err := Decode([]byte("{not json")); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("bad json: err = %v", err)
	}
	if _, err := Decode([]byte(`{"kind":"password_reset"}`)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("incomplete message: err = %v", err)
	}
}

func TestLogNotifier_DoesNotLogToken(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	m := testMessage()
	if err := n.Send(context.Background(), m); err != nil {
		t.Fatalf("Send: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, m.Token) {
		t.Error("log output contains the plaintext token")
	}
	if !strings.Contains(out, m.ID) {
		t.Errorf("log output missing message id: %s", out)
	}
}

func TestOutbox(t *testing.T) {
	o := NewOutbox()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o.nowF = func() time.Time { return now }
	ctx := context.Background()

	first := testMessage()
	first.ExpiresAt = now.Add(time.Hour)
	second := first
	second.Token = "second-secret"
	if err := o.Send(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := o.Send(ctx, second); err != nil {
		t.Fatal(err)
	}
	got, ok := o.Latest(first.Email, KindPasswordReset)
	if !ok || got.Token != "second-secret" {
		t.Fatalf("Latest = %+v, %v; want second message", got, ok)
	}
	if _, ok := o.Latest(first.Email, KindEmailVerification); ok {
		t.Error("kinds must be kept apart")
	}
	now = now.Add(time.Hour)
	if _, ok := o.Latest(first.Email, KindPasswordReset); ok {
		t.Error("expired message should not be returned")
	}
	if o.Len() != 0 {
		t.Errorf("Len = %d, want expired entry evicted", o.Len())
	}
	if err := o.Send(ctx, Message{}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("invalid message: err = %v", err)
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var (
		gotAuth string
		gotMsg  Message
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotMsg); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "key-123")
	defer n.Close()
	m := testMessage()
	if err := n.Send(context.Background(), m); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "key-123" || gotMsg.ID != m.ID || gotMsg.Token != m.Token {
		t.Errorf("server saw auth %q message %+v", gotAuth, gotMsg)
	}
}

func TestWebhookNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailer down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, "").Send(context.Background(), testMessage())
	if err == nil || !strings.Contains(err.Error(), "status=502") {
		t.Errorf("err = %v, want status 502", err)
	}
	if err := NewWebhookNotifier("", "").Send(context.Background(), testMessage()); err == nil {
		t.Error("missing URL should fail")
	}
}

func TestNewQueueNotifiers_RequireSettings(t *testing.T) {
	if _, err := NewKafkaNotifier(nil, "topic"); err == nil {
		t.Error("kafka without brokers should fail")
	}
	if _, err := NewAMQPNotifier("", "queue"); err == nil {
		t.Error("amqp without url should fail")
	}
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func TestConsumeKafka(t *testing.T) {
	good, _ := Encode(testMessage())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{
		msgs:   []kafka.Message{{Offset: 1, Value: good}, {Offset: 2, Value: []byte("garbage")}},
		cancel: cancel,
	}
	var delivered []string
	err := ConsumeKafka(ctx, r, func(ctx context.Context, m Message) error {
		delivered = append(delivered, m.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("ConsumeKafka: %v", err)
	}
	if len(delivered) != 1 {
		t.Errorf("delivered %d messages, want 1", len(delivered))
	}
	if len(r.committed) != 2 {
		t.Errorf("committed offsets %v, want both (undecodable messages are dropped)", r.committed)
	}
}

func TestConsumeKafka_RetriesFailedDeliveryBeforeMovingOn(t *testing.T) {
	defer func(base time.Duration) { retryBase = base }(retryBase)
	retryBase = time.Millisecond

	first, second := testMessage(), testMessage()
	second.ID = "second"
	a, _ := Encode(first)
	b, _ := Encode(second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{
		msgs:   []kafka.Message{{Offset: 5, Value: a}, {Offset: 6, Value: b}},
		cancel: cancel,
	}
	var delivered []string
	failures := 2
	err := ConsumeKafka(ctx, r, func(ctx context.Context, m Message) error {
		if m.ID == first.ID && failures > 0 {
			failures--
			return errors.New("webhook down")
		}
		delivered = append(delivered, m.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("ConsumeKafka: %v", err)
	}
	if len(delivered) != 2 || delivered[0] != first.ID || delivered[1] != "second" {
		t.Errorf("delivered %v, want first then second", delivered)
	}
	if len(r.committed) != 2 || r.committed[0] != 5 || r.committed[1] != 6 {
		t.Errorf("committed %v, want [5 6]", r.committed)
	}
}

func TestConsumeKafka_StopsRetryingOnCancel(t *testing.T) {
	defer func(base time.Duration) { retryBase = base }(retryBase)
	retryBase = time.Millisecond

	good, _ := Encode(testMessage())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{msgs: []kafka.Message{{Offset: 1, Value: good}}, cancel: cancel}
	attempts := 0
	err := ConsumeKafka(ctx, r, func(ctx context.Context, m Message) error {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return errors.New("webhook down")
	})
	if err != nil {
		t.Fatalf("ConsumeKafka: %v", err)
	}
	if len(r.committed) != 0 {
		t.Errorf("committed %v, want nothing for an undelivered message", r.committed)
	}
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(bool) error { a.acked = true; return nil }

func (a *fakeAck) Nack(_, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func TestSettle(t *testing.T) {
	good, _ := Encode(testMessage())
	ok := func(context.Context, Message) error { return nil }
	fail := func(context.Context, Message) error { return io.ErrUnexpectedEOF }

	a := &fakeAck{}
	settle(context.Background(), a, good, ok)
	if !a.acked || a.nacked {
		t.Errorf("delivered message: %+v, want ack", a)
	}
	a = &fakeAck{}
	settle(context.Background(), a, good, fail)
	if !a.nacked || !a.requeued {
		t.Errorf("failed delivery: %+v, want nack with requeue", a)
	}
	a = &fakeAck{}
	settle(context.Background(), a, []byte("garbage"), ok)
	if !a.nacked || a.requeued {
		t.Errorf("undecodable: %+v, want nack without requeue", a)
	}
}
