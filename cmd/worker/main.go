// Worker consumes queued notifications from Kafka or RabbitMQ and delivers them to the webhook.
// Set NOTIFIER=kafka (KAFKA_BROKERS, NOTIFY_KAFKA_TOPIC, KAFKA_GROUP_ID) or NOTIFIER=amqp
// (AMQP_URL, NOTIFY_AMQP_QUEUE), plus NOTIFY_WEBHOOK_URL.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"account-platform/internal/config"
	"account-platform/internal/notify"
)

const deliverTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("worker: NOTIFY_WEBHOOK_URL is required")
	}
	webhook := notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookAPIKey)
	defer webhook.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deliver := func(ctx context.Context, m notify.Message) error {
		dctx, dcancel := context.WithTimeout(ctx, deliverTimeout)
		defer dcancel()
		if err := webhook.Send(dctx, m); err != nil {
			return err
		}
		slog.InfoContext(ctx, "worker: delivered", "message_id", m.ID, "kind", m.Kind)
		return nil
	}

	switch cfg.Notifier {
	case "kafka":
		brokers := cfg.KafkaBrokersList()
		reader := notify.NewKafkaReader(brokers, cfg.NotifyKafkaTopic, cfg.KafkaGroupID)
		defer reader.Close()
		slog.Info("worker: consuming kafka", "topic", cfg.NotifyKafkaTopic, "group", cfg.KafkaGroupID)
		err = notify.ConsumeKafka(ctx, reader, deliver)
	case "amqp":
		slog.Info("worker: consuming amqp", "queue", cfg.NotifyAMQPQueue)
		err = notify.ConsumeAMQP(ctx, cfg.AMQPURL, cfg.NotifyAMQPQueue, deliver)
	default:
		log.Fatalf("worker: NOTIFIER must be kafka or amqp, got %q", cfg.Notifier)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("worker: %v", err)
	}
	slog.Info("worker: stopped")
}
