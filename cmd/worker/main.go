// Worker consumes telemetry events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"elearning-marketplace/backend/internal/config"
	"elearning-marketplace/backend/internal/logging"
	"elearning-marketplace/backend/internal/telemetry/loki"
	"elearning-marketplace/backend/internal/telemetry/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("development").Error(context.Background(), "config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Env).With("component", "worker")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Error(ctx, "worker: KAFKA_BROKERS is required")
		os.Exit(1)
	}
	pusher, err := loki.NewClient(cfg.LokiURL, nil)
	if err != nil {
		log.Error(ctx, "worker: loki client", "error", err)
		os.Exit(1)
	}

	reader := worker.NewReader(brokers, cfg.TelemetryKafkaTopic, cfg.KafkaGroupID)
	defer reader.Close()

	log.Info(ctx, "worker: consuming", "topic", cfg.TelemetryKafkaTopic, "group", cfg.KafkaGroupID, "loki", cfg.LokiURL)
	if err := worker.Run(ctx, reader, pusher, log); err != nil {
		log.Error(ctx, "worker: stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "worker: stopped")
}
