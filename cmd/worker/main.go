// Worker consumes pipeline events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, PIPELINE_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"trailwatch/backend/internal/config"
	"trailwatch/backend/internal/errs"
	"trailwatch/backend/internal/logging"
	"trailwatch/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.Any("err", err))
		os.Exit(1)
	}
	logging.SetDefault(logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithComponent(ctx, "event-worker")

	brokers := cfg.PipelineKafkaBrokersList()
	if len(brokers) == 0 {
		logging.Error(ctx, "worker: KAFKA_BROKERS is required")
		os.Exit(1)
	}
	if cfg.LokiURL == "" {
		logging.Error(ctx, "worker: LOKI_URL is required")
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.PipelineKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	client := loki.NewClient(cfg.LokiURL)
	logging.Info(ctx, "worker: consuming",
		slog.String("topic", cfg.PipelineKafkaTopic),
		slog.String("group", cfg.KafkaGroupID),
		slog.String("loki", cfg.LokiURL))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logging.Info(ctx, "worker: stopped")
				return
			}
			logging.Warn(ctx, "worker: kafka read failed", slog.Any("err", errs.Loggable(err)))
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			logging.Warn(ctx, "worker: loki push failed",
				slog.Int64("offset", msg.Offset),
				slog.Any("err", errs.Loggable(err)))
		}
		cancel()
	}
}
