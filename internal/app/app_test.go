package app

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/config"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7/er7test"
	"github.com/drfirst/go-rxhl7/internal/ingest"
	"github.com/drfirst/go-rxhl7/internal/observability/metrics"
)

func TestInMemoryWiring(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.HL7.Sites = []string{"RVH", "MGH"}
	m := metrics.New(prometheus.NewRegistry())
	logger := zap.NewNop()

	storage, err := OpenStorage(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	defer storage.Close()
	if storage.Pool != nil || storage.Sites != nil {
		t.Fatal("expected in-memory storage")
	}
	if err := storage.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	registry, cache, err := OpenSites(ctx, cfg, storage.Sites, m, logger)
	if err != nil {
		t.Fatalf("OpenSites: %v", err)
	}
	defer cache.Close()
	defer registry.Stop()
	if !registry.IsKnownSite("MGH") || registry.IsKnownSite("MCH") {
		t.Errorf("sites = %v", registry.Sites())
	}

	pipeline, err := NewPipeline(cfg, storage, registry, m, logger)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	// the in-memory directory starts empty
	_, err = pipeline.Ingest(ctx, []byte(er7test.PharmacyMessage()), ingest.SourceHTTP)
	if !errors.Is(err, ingest.ErrPatientNotFound) {
		t.Errorf("Ingest = %v, want ErrPatientNotFound", err)
	}

	pid, _, err := pipeline.Demographics(ctx, []byte(er7test.PharmacyMessage()))
	if err != nil {
		t.Fatalf("Demographics: %v", err)
	}
	if len(pid.MRNSites) != 2 {
		t.Errorf("mrn sites = %+v", pid.MRNSites)
	}
}

func TestInMemoryWithoutSitesKeepsIdentifiers(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.HL7.Sites = nil
	logger := zap.NewNop()

	storage, err := OpenStorage(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	defer storage.Close()

	registry, cache, err := OpenSites(ctx, cfg, storage.Sites, nil, logger)
	if err != nil {
		t.Fatalf("OpenSites: %v", err)
	}
	defer cache.Close()
	defer registry.Stop()

	pipeline, err := NewPipeline(cfg, storage, registry, nil, logger)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	pid, _, err := pipeline.Demographics(ctx, []byte(er7test.PharmacyMessage()))
	if err != nil {
		t.Fatalf("Demographics: %v", err)
	}
	if len(pid.MRNSites) != 5 {
		t.Errorf("mrn sites = %+v, want all 5", pid.MRNSites)
	}
}

func TestNewPipelineRejectsBadZone(t *testing.T) {
	cfg := config.Default()
	cfg.HL7.TimeZone = "Nowhere/Special"
	if _, err := NewPipeline(cfg, &Storage{}, nil, nil, zap.NewNop()); err == nil {
		t.Error("expected time zone error")
	}
}
