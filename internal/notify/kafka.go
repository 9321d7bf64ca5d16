package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier queues messages on a Kafka topic for cmd/worker to deliver.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier returns a notifier writing to topic on brokers. Call Close when shutting down.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("notify: kafka brokers and topic are required")
	}
	return &KafkaNotifier{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}, nil
}

// Send writes m keyed by user ID so one user's messages stay ordered within a partition.
func (n *KafkaNotifier) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := n.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(m.UserID), Value: payload}); err != nil {
		return fmt.Errorf("notify: kafka write: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}

// Handler processes one decoded message.
type Handler func(ctx context.Context, m Message) error

// KafkaReader is the part of *kafka.Reader the consumer uses.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaReader returns a consumer-group reader for the notification topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
}

// retryBase is the first delay between attempts; it doubles up to retryMax.
var (
	retryBase = time.Second
	retryMax  = 30 * time.Second
)

// ConsumeKafka feeds messages from r to h until ctx is cancelled. A message is
// committed after h succeeds or when it cannot be decoded. A failed delivery is
// retried on the same message with backoff; later messages wait behind it so the
// group offset never moves past an undelivered one.
func ConsumeKafka(ctx context.Context, r KafkaReader, h Handler) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.WarnContext(ctx, "notify: kafka fetch failed", "error", err)
			if !sleep(ctx, retryBase) {
				return nil
			}
			continue
		}
		m, err := Decode(msg.Value)
		if err != nil {
			slog.ErrorContext(ctx, "notify: dropping undecodable message", "offset", msg.Offset, "error", err)
		} else if !deliverWithRetry(ctx, m, h) {
			return nil
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.WarnContext(ctx, "notify: kafka commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// deliverWithRetry calls h until it succeeds; it reports false when ctx ended first.
func deliverWithRetry(ctx context.Context, m Message, h Handler) bool {
	backoff := retryBase
	for {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		slog.WarnContext(ctx, "notify: delivery failed, will retry", "message_id", m.ID, "kind", m.Kind, "error", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return false
		}
		if backoff < retryMax {
			backoff *= 2
		}
	}
}

// sleep waits d or until ctx is done; it reports false when ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
