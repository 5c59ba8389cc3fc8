// The memory worker: discovers per-user memory task queues and drives the
// write-path decision machine for each consumed exchange.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/config"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/engine"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/llm"
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

	cacheClient, err := cache.NewClient(cache.Config{
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to cache", zap.Error(err))
	}
	defer cacheClient.Close()

	oracle, err := llm.NewOpenAIOracle(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.ChatModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		EmbeddingDim:   cfg.LLM.EmbeddingDim,
		EmbedCacheSize: cfg.LLM.EmbedCacheSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM oracle", zap.Error(err))
	}

	mgmt, err := pipeline.NewMgmtClient(cfg.Broker.APIURL, cfg.Broker.APIUser, cfg.Broker.APIPass)
	if err != nil {
		logger.Fatal("Failed to create broker management client", zap.Error(err))
	}

	eng := engine.New(cacheClient, oracle, engine.Options{
		TopK:    cfg.Retrieval.TopK,
		RecentM: cfg.Retrieval.RecentM,
	}, logger)

	worker := pipeline.NewWorker(pipeline.WorkerConfig{
		Family:    "memory",
		Prefix:    pipeline.MemoryQueuePrefix,
		BrokerURL: cfg.Broker.URL,
		Mgmt:      mgmt,
		Prefetch:  cfg.Pipeline.MemoryPrefetch,
		Interval:  cfg.Pipeline.DiscoveryInterval,
		Handler:   pipeline.MemoryTaskHandler(eng, logger),
	}, logger)

	if port := config.GetEnvOrDefaultInt("METRICS_PORT", 0); port > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("Metrics listening", zap.Int("port", port))
			_ = http.ListenAndServe(":"+strconv.Itoa(port), mux)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Memory worker started")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("Memory worker stopped", zap.Error(err))
	}
}
