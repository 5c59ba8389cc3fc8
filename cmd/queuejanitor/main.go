// The queue janitor: periodically deletes empty per-user queues so the
// broker doesn't accumulate queues for inactive users.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/config"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/pipeline"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	mgmt, err := pipeline.NewMgmtClient(cfg.Broker.APIURL, cfg.Broker.APIUser, cfg.Broker.APIPass)
	if err != nil {
		logger.Fatal("Failed to create broker management client", zap.Error(err))
	}

	janitor := pipeline.NewJanitor(mgmt, cfg.Pipeline.CleanupInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Queue janitor started")
	if err := janitor.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("Queue janitor stopped", zap.Error(err))
	}
}
