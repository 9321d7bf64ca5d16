package notify

import (
	"context"
	"log/slog"
)

// LogNotifier records that a message would be sent without delivering it.
// The token is never written to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier writing to logger, or slog.Default when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "notification not delivered (log notifier)",
		"message_id", m.ID, "kind", m.Kind, "user_id", m.UserID, "expires_at", m.ExpiresAt)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
