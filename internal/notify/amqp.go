package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes messages to a durable RabbitMQ queue.
type AMQPNotifier struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPNotifier dials url and declares queue. Call Close when shutting down.
func NewAMQPNotifier(url, queue string) (*AMQPNotifier, error) {
	if url == "" || queue == "" {
		return nil, errors.New("notify: amqp url and queue are required")
	}
	n := &AMQPNotifier{url: url, queue: queue}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

// connect opens the connection and channel; callers hold mu or own n exclusively.
func (n *AMQPNotifier) connect() error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("notify: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("notify: amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("notify: amqp queue declare: %w", err)
	}
	n.conn, n.ch = conn, ch
	return nil
}

// Send publishes m as a persistent message. A closed connection is re-dialled once.
func (n *AMQPNotifier) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body, err := Encode(m)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil || n.conn.IsClosed() {
		if err := n.connect(); err != nil {
			return err
		}
	}
	if err := n.ch.PublishWithContext(ctx, "", n.queue, false, false, pub); err != nil {
		return fmt.Errorf("notify: amqp publish: %w", err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	if n.ch != nil {
		_ = n.ch.Close()
	}
	err := n.conn.Close()
	n.conn, n.ch = nil, nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// ConsumeAMQP consumes queue on url and feeds each message to h until ctx is
// cancelled, reconnecting with backoff when the broker goes away. Failed
// deliveries are nacked with requeue; undecodable messages are dropped.
func ConsumeAMQP(ctx context.Context, url, queue string, h Handler) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			slog.WarnContext(ctx, "notify: amqp dial failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		err = consumeAMQP(ctx, conn, queue, h)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		slog.WarnContext(ctx, "notify: amqp consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func consumeAMQP(ctx context.Context, conn *amqp.Connection, queue string, h Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()
	if err := ch.Qos(50, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			settle(ctx, d, d.Body, h)
		}
	}
}

// acknowledger is the part of amqp.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func settle(ctx context.Context, ack acknowledger, body []byte, h Handler) {
	m, err := Decode(body)
	if err != nil {
		slog.ErrorContext(ctx, "notify: dropping undecodable message", "error", err)
		_ = ack.Nack(false, false)
		return
	}
	if err := h(ctx, m); err != nil {
		slog.WarnContext(ctx, "notify: delivery failed, requeueing", "message_id", m.ID, "kind", m.Kind, "error", err)
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}
