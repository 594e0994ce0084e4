// Package main provides the outbox relay service entry point.
// It publishes committed pharmacy order events to Kafka.
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
	"github.com/drfirst/go-rxhl7/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxhl7/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxhl7/internal/observability/logging"
	"github.com/drfirst/go-rxhl7/internal/observability/metrics"
	"github.com/drfirst/go-rxhl7/pkg/circuitbreaker"
)

const serviceName = "outbox-relay"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML configuration")
	metricsAddr := flag.String("metrics-addr", ":9091", "address for /metrics and /health")
	maintenance := flag.Duration("maintenance-interval", time.Minute, "how often to dead-letter and clean up entries")
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

	if cfg.Database.URL == "" {
		logger.Fatal("the relay reads the outbox table; set database.url")
	}
	storage, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer storage.Close()

	// Topics
	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	defer admin.Close()
	if err := admin.EnsureTopics(ctx, redpanda.Topics{
		Inbound:           cfg.Kafka.InboundTopic,
		Orders:            cfg.Kafka.OrdersTopic,
		DeadLetter:        cfg.Kafka.DeadLetterTopic,
		Partitions:        cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
	}); err != nil {
		logger.Warn("failed to ensure topics", zap.Error(err))
	}

	// Producer behind a breaker
	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producerCfg.ClientID = cfg.Kafka.ClientID

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	producer.WithRecorder(m)

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("kafka-producer"), logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}
	m.BreakerState("kafka-producer", string(breaker.GetState()))

	// Outbox
	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.BatchSize = cfg.Outbox.BatchSize
	outboxCfg.PollInterval = cfg.Outbox.PollInterval
	outboxCfg.MaxRetries = cfg.Outbox.MaxRetries
	outboxCfg.Retention = cfg.Outbox.Retention
	if cfg.Kafka.DeadLetterTopic != "" {
		outboxCfg.DeadLetterTopic = cfg.Kafka.DeadLetterTopic
	}

	outbox := postgres.NewOutbox(storage.Pool, &guardedPublisher{breaker: breaker, producer: producer}, outboxCfg, logger)
	outbox.Start()

	maintCtx, stopMaint := context.WithCancel(context.Background())
	maintDone := make(chan struct{})
	go func() {
		defer close(maintDone)
		runMaintenance(maintCtx, *maintenance, outbox, breaker, m, logger)
	}()

	server := &http.Server{Addr: *metricsAddr, Handler: opsMux(storage, producer, breaker, outbox, admin, outboxCfg.DeadLetterTopic, cfg.Kafka.OrdersTopic)}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("outbox relay started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("dead_letter_topic", outboxCfg.DeadLetterTopic))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	stopMaint()
	<-maintDone
	outbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
	logger.Info("outbox relay stopped")
}

// guardedPublisher sends outbox entries through the breaker
type guardedPublisher struct {
	breaker  *circuitbreaker.CircuitBreaker
	producer *redpanda.Producer
}

func (p *guardedPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.breaker.Call(ctx, func(ctx context.Context) error {
		return p.producer.Publish(ctx, topic, key, value)
	})
}

// runMaintenance dead-letters exhausted entries, deletes old relayed ones
// and refreshes the gauges
func runMaintenance(ctx context.Context, interval time.Duration, outbox *postgres.Outbox, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.BreakerState("kafka-producer", string(breaker.GetState()))

		if !breaker.IsOpen() {
			if n, err := outbox.MoveToDeadLetter(ctx); err != nil {
				logger.Error("dead letter pass failed", zap.Error(err))
			} else if n > 0 {
				logger.Warn("outbox entries dead-lettered", zap.Int64("count", n))
			}
		}

		if n, err := outbox.CleanupProcessed(ctx); err != nil {
			logger.Error("outbox cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("outbox entries cleaned up", zap.Int64("count", n))
		}

		if stats, err := outbox.GetStats(ctx); err != nil {
			logger.Error("outbox stats failed", zap.Error(err))
		} else {
			m.PendingOutbox(stats.Pending)
		}
	}
}

func opsMux(storage *app.Storage, producer *redpanda.Producer, breaker *circuitbreaker.CircuitBreaker, outbox *postgres.Outbox, admin *redpanda.Admin, required ...string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(nil))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "healthy",
			"service":  serviceName,
			"producer": producer.Stats(),
			"breaker":  breaker.Health(),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]any{"breaker": breaker.Health()}
		status := http.StatusOK
		if err := storage.Ping(ctx); err != nil {
			body["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := producer.Ping(ctx); err != nil {
			body["broker"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if stats, err := outbox.GetStats(ctx); err == nil {
			body["outbox"] = stats
		}
		if names, err := admin.ListTopics(ctx); err == nil {
			if missing := missingTopics(names, required); len(missing) > 0 {
				body["missing_topics"] = missing
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, body)
	})
	return mux
}

// missingTopics returns the required topics absent from names
func missingTopics(names, required []string) []string {
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	var missing []string
	for _, t := range required {
		if t != "" && !have[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
