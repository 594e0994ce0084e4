// Package main provides the HL7 consumer service entry point.
// It ingests pharmacy orders from the inbound HL7 topic.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/app"
	"github.com/drfirst/go-rxhl7/internal/config"
	"github.com/drfirst/go-rxhl7/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxhl7/internal/ingest"
	"github.com/drfirst/go-rxhl7/internal/observability/logging"
	"github.com/drfirst/go-rxhl7/internal/observability/metrics"
	"github.com/drfirst/go-rxhl7/pkg/idempotency"
	"github.com/drfirst/go-rxhl7/pkg/workerpool"
)

const serviceName = "hl7-consumer"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML configuration")
	metricsAddr := flag.String("metrics-addr", ":9090", "address for /metrics and /health")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(serviceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	tp, err := app.InitTracing(ctx, serviceName, cfg)
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	m := metrics.New(nil)

	storage, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer storage.Close()
	if storage.Pool == nil {
		logger.Fatal("the consumer needs a database for its inbox; set database.url")
	}

	registry, cache, err := app.OpenSites(ctx, cfg, storage.Sites, m, logger)
	if err != nil {
		logger.Fatal("failed to open site registry", zap.Error(err))
	}
	defer cache.Close()
	defer registry.Stop()

	pipeline, err := app.NewPipeline(cfg, storage, registry, m, logger)
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}

	// Worker pool
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers.Count
	poolCfg.QueueSize = cfg.Workers.QueueSize
	poolCfg.MaxRetries = cfg.Workers.MaxRetries
	poolCfg.RetryDelay = cfg.Workers.RetryDelay
	poolCfg.Retryable = ingest.Retryable

	workers, err := workerpool.New(poolCfg, pipeline.Work, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workers.Start()

	// Inbox
	inboxStore := idempotency.NewPostgresStore(storage.Pool)
	inboxCfg := idempotency.DefaultInboxConfig()
	inboxCfg.IsTerminal = ingest.IsTerminal
	inbox := idempotency.NewInbox(inboxStore, inboxCfg, logger)
	if n, err := inboxStore.RecoverStaleEntries(ctx, inboxCfg.RecoveryTimeout); err != nil {
		logger.Warn("stale inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()

	// Consumer
	handler := ingest.NewStreamHandler(inbox, workers, logger)

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.ClientID = cfg.Kafka.ClientID
	consumerCfg.GroupID = cfg.Kafka.ConsumerGroup
	consumerCfg.Topics = []string{cfg.Kafka.InboundTopic}

	consumer, err := redpanda.NewConsumer(consumerCfg, handler.Handle, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.WithRecorder(m)

	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()
	if err := admin.EnsureTopics(ctx, topics(cfg)); err != nil {
		logger.Warn("failed to ensure topics", zap.Error(err))
	}

	consumer.Start()

	server := &http.Server{
		Addr:    *metricsAddr,
		Handler: opsMux(storage, consumer, workers, inboxStore, admin, cfg.Kafka.ConsumerGroup),
	}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("hl7 consumer started",
		zap.String("topic", cfg.Kafka.InboundTopic),
		zap.String("group", cfg.Kafka.ConsumerGroup),
		zap.Int("workers", poolCfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// consumer first so no new tasks reach the pool
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	if err := workers.Stop(); err != nil {
		logger.Error("worker pool stop error", zap.Error(err))
	}
	inbox.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	stats := consumer.Stats()
	logger.Info("hl7 consumer stopped",
		zap.Int64("messages", stats.MessagesRead),
		zap.Int64("errors", stats.ErrorCount))
}

func topics(cfg *config.Config) redpanda.Topics {
	return redpanda.Topics{
		Inbound:           cfg.Kafka.InboundTopic,
		Orders:            cfg.Kafka.OrdersTopic,
		DeadLetter:        cfg.Kafka.DeadLetterTopic,
		Partitions:        cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
	}
}

func opsMux(storage *app.Storage, consumer *redpanda.Consumer, workers *workerpool.Pool, inbox *idempotency.PostgresStore, admin *redpanda.Admin, group string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(nil))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "healthy",
			"service":  serviceName,
			"consumer": consumer.Stats(),
			"workers":  workers.Stats(),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]any{}
		status := http.StatusOK
		if err := storage.Ping(ctx); err != nil {
			body["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := consumer.Ping(ctx); err != nil {
			body["broker"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if !workers.IsHealthy() {
			body["workers"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		if stats, err := inbox.GetStats(ctx); err == nil {
			body["inbox"] = stats
		}
		if lag, err := admin.GroupLag(ctx, group); err == nil {
			body["lag"] = lag
		}
		writeJSON(w, status, body)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
