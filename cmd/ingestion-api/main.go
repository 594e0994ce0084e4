// Package main provides the ingestion API service entry point.
// It accepts ER7 pharmacy orders over HTTP and commits them.
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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/api/handlers"
	"github.com/drfirst/go-rxhl7/internal/api/middleware"
	"github.com/drfirst/go-rxhl7/internal/app"
	"github.com/drfirst/go-rxhl7/internal/config"
	"github.com/drfirst/go-rxhl7/internal/observability/logging"
	"github.com/drfirst/go-rxhl7/internal/observability/metrics"
)

const serviceName = "ingestion-api"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML configuration")
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

	pharmacyHandler := handlers.NewPharmacyHandler(pipeline, cfg.HL7.MaxMessageBytes, logger)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	// no auth
	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{"database": "ok", "site_cache": "ok"}
		status := http.StatusOK
		if err := storage.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := cache.Ping(ctx); err != nil {
			// registry keeps serving its last known sites
			checks["site_cache"] = err.Error()
		}
		writeJSON(w, status, map[string]any{"checks": checks, "sites": len(registry.Sites())})
	})
	r.Handle("/metrics", metrics.Handler(nil))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.Server.APIKeys))
		r.Mount("/pharmacy/orders", pharmacyHandler.OrderRoutes())
		r.Mount("/patients", pharmacyHandler.PatientRoutes())
		r.Mount("/sites", handlers.NewSitesHandler(registry, logger).Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting ingestion API",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("auth", len(cfg.Server.APIKeys) > 0),
		zap.Bool("in_memory", storage.Pool == nil))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
