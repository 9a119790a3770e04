// Worker consumes identity lifecycle events from Kafka and retries compensations reported by
// consistency_warning events. Set KAFKA_BROKERS, IDENTITY_EVENTS_TOPIC and KAFKA_GROUP_ID plus the
// database and identity provider settings used by the server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identity-provisioning/internal/app"
	"identity-provisioning/internal/config"
	"identity-provisioning/internal/events"
	"identity-provisioning/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "error", "json", "").Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat, cfg.OTelServiceName+"-worker")

	consumer := events.NewKafkaConsumer(cfg.KafkaBrokersList(), cfg.EventsTopic, cfg.KafkaGroupID, logger)
	if consumer == nil {
		logger.Error("worker: KAFKA_BROKERS is required")
		os.Exit(1)
	}
	defer consumer.Close()

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("startup", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("worker: consuming lifecycle events", "topic", cfg.EventsTopic, "group", cfg.KafkaGroupID)
	if err := consumer.Run(ctx, a.Service.Reconcile); err != nil {
		logger.Error("worker: consumer stopped", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	a.Close(shutdownCtx)
	logger.Info("worker: stopped")
}
