// Package app wires configuration into the storage, site registry and
// ingestion pipeline shared by the service binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/config"
	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
	"github.com/drfirst/go-rxhl7/internal/infrastructure/memstore"
	"github.com/drfirst/go-rxhl7/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxhl7/internal/ingest"
	"github.com/drfirst/go-rxhl7/internal/observability/metrics"
	"github.com/drfirst/go-rxhl7/internal/observability/tracing"
	"github.com/drfirst/go-rxhl7/internal/sites"
)

// Storage is the persistence the pipeline runs on
type Storage struct {
	// Pool is nil when running in memory
	Pool     *pgxpool.Pool
	Orders   pharmacy.Store
	Patients ingest.PatientResolver
	Sites    sites.Source
}

// OpenStorage connects to PostgreSQL, or returns an in-memory store when no
// database URL is configured
func OpenStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database url, using in-memory store")
		patients := memstore.NewPatients()
		return &Storage{
			Orders:   memstore.New(patients),
			Patients: patients,
		}, nil
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	logger.Info("connected to database")

	return &Storage{
		Pool:     pool,
		Orders:   postgres.NewOrderStore(pool, cfg.Kafka.OrdersTopic, logger),
		Patients: postgres.NewPatientDirectory(pool),
		Sites:    postgres.NewSiteDirectory(pool),
	}, nil
}

// Ping checks the database, if there is one
func (s *Storage) Ping(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	return s.Pool.Ping(ctx)
}

// Close releases the connection pool
func (s *Storage) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenSites builds the site registry, loads it once and starts refreshing it.
// A failed first load is logged and the static sites are used until the next
// refresh succeeds.
func OpenSites(ctx context.Context, cfg *config.Config, source sites.Source, m *metrics.Metrics, logger *zap.Logger) (*sites.Registry, *sites.Cache, error) {
	cache, err := sites.NewCache(ctx, sites.CacheConfig{
		Enabled:   cfg.Redis.Enabled,
		Host:      cfg.Redis.Host,
		Port:      cfg.Redis.Port,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, nil, err
	}

	registry := sites.NewRegistry(source, cache, sites.Config{
		Static:          cfg.HL7.Sites,
		RefreshInterval: cfg.HL7.SiteRefresh,
		CacheTTL:        cfg.HL7.SiteCacheTTL,
	}, logger)
	if m != nil {
		registry.OnRefresh(m.SitesKnown)
	}
	if err := registry.Refresh(ctx); err != nil {
		logger.Warn("initial site load failed", zap.Error(err))
	}
	registry.Start()
	return registry, cache, nil
}

// NewPipeline builds the decode, map and commit pipeline. With no site
// table and no configured sites every PID-3 identifier is kept, since
// filtering against an empty list would drop all of them.
func NewPipeline(cfg *config.Config, storage *Storage, lookup er7.SiteLookup, m *metrics.Metrics, logger *zap.Logger) (*ingest.Pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if storage.Sites == nil && len(cfg.HL7.Sites) == 0 {
		logger.Warn("no hospital sites configured, PID-3 identifiers are not filtered by site")
		lookup = nil
	}

	decoder := er7.NewDecoder(er7.Config{
		Location:       loc,
		LineBreakToken: cfg.HL7.LineBreakToken,
		Sites:          lookup,
	}, logger)

	repo := pharmacy.NewRepository(storage.Orders, logger)
	var recorder ingest.Recorder
	if m != nil {
		repo.WithObserver(m)
		recorder = m
	}
	return ingest.New(decoder, storage.Patients, repo, recorder, logger), nil
}

// InitTracing installs the tracer provider for service
func InitTracing(ctx context.Context, service string, cfg *config.Config) (*tracing.Provider, error) {
	tc := tracing.DefaultConfig(service)
	tc.OTLPEndpoint = cfg.Tracing.Endpoint
	tc.SampleRate = cfg.Tracing.SampleRate
	if cfg.Tracing.Environment != "" {
		tc.Environment = cfg.Tracing.Environment
	}
	provider, err := tracing.Init(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return provider, nil
}
