// The chat service: HTTP façade, memory-engine hot path, queue publisher,
// and the session boundary. Asynchronous memory formation runs in the
// separate worker binaries under cmd/.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/cache"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/config"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/engine"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/httpapi"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/llm"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/pipeline"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/session"
	"github.com/abrasive519mars/mem0-async-chatbot/internal/store"
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

	storeClient, err := store.NewClient(store.Config{
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		User:     cfg.Store.User,
		Password: cfg.Store.Password,
		Database: cfg.Store.Database,
		SSLMode:  cfg.Store.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to store", zap.Error(err))
	}
	defer storeClient.Close()

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

	publisher, err := pipeline.NewPublisher(cfg.Broker.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to broker", zap.Error(err))
	}
	defer publisher.Close()

	eng := engine.New(cacheClient, oracle, engine.Options{
		TopK:           cfg.Retrieval.TopK,
		RecentM:        cfg.Retrieval.RecentM,
		SemanticCutoff: cfg.Retrieval.SemanticCutoff,
		CombinedCutoff: cfg.Retrieval.CombinedCutoff,
	}, logger)
	controller := session.NewController(cacheClient, storeClient, logger)

	mux := http.NewServeMux()
	httpapi.NewChatHandler(eng, publisher, logger).RegisterRoutes(mux)
	httpapi.NewSessionHandler(controller, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Chat service listening", zap.Int("port", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
}
