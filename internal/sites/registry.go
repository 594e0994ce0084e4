package sites

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
)

const cacheKey = "hospital_sites"

// Source lists site codes, usually the hospital_site table
type Source interface {
	KnownSites(ctx context.Context) ([]string, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) ([]string, error)

// KnownSites calls f(ctx)
func (f SourceFunc) KnownSites(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// Config holds registry configuration
type Config struct {
	// Static codes are always known, whatever the source says
	Static []string `yaml:"static"`
	// RefreshInterval is how often the source is re-read
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// CacheTTL bounds how stale a shared cached list may be
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RefreshInterval: time.Minute,
		CacheTTL:        TTLSites,
	}
}

// Registry is an er7.SiteLookup backed by a Source and a shared cache.
// Lookups never block on I/O; they read the last refreshed set.
type Registry struct {
	source    Source
	cache     *Cache
	config    Config
	logger    *zap.Logger
	onRefresh func(n int)

	mu  sync.RWMutex
	set er7.SiteSet

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ er7.SiteLookup = (*Registry)(nil)

// NewRegistry creates a registry holding only the static codes until the
// first Refresh. source and cache may be nil.
func NewRegistry(source Source, cache *Cache, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = &Cache{}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = TTLSites
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		source: source,
		cache:  cache,
		config: cfg,
		logger: logger,
		set:    er7.NewSiteSet(cfg.Static...),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// OnRefresh registers fn to receive the site count after each refresh
func (r *Registry) OnRefresh(fn func(n int)) {
	r.onRefresh = fn
}

// IsKnownSite implements er7.SiteLookup
func (r *Registry) IsKnownSite(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.IsKnownSite(code)
}

// Sites returns the known codes in order
func (r *Registry) Sites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.set))
	for code := range r.set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Refresh reloads the site set from the cache, or from the source on a
// miss. On error the previous set is kept.
func (r *Registry) Refresh(ctx context.Context) error {
	var codes []string
	err := r.cache.Get(ctx, cacheKey, &codes)
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil):
		codes, err = r.load(ctx)
		if err != nil {
			return err
		}
	default:
		// cache trouble should not stop ingestion
		r.logger.Warn("site cache read failed", zap.Error(err))
		codes, err = r.load(ctx)
		if err != nil {
			return err
		}
	}

	set := er7.NewSiteSet(r.config.Static...)
	for _, c := range codes {
		set[c] = struct{}{}
	}

	r.mu.Lock()
	r.set = set
	r.mu.Unlock()

	if r.onRefresh != nil {
		r.onRefresh(len(set))
	}
	r.logger.Debug("site registry refreshed", zap.Int("sites", len(set)))
	return nil
}

func (r *Registry) load(ctx context.Context) ([]string, error) {
	if r.source == nil {
		return nil, nil
	}
	codes, err := r.source.KnownSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	if err := r.cache.Set(ctx, cacheKey, codes, r.config.CacheTTL); err != nil {
		r.logger.Warn("site cache write failed", zap.Error(err))
	}
	return codes, nil
}

// Invalidate drops the shared cached list so every instance reloads
func (r *Registry) Invalidate(ctx context.Context) error {
	return r.cache.Delete(ctx, cacheKey)
}

// Start refreshes periodically until Stop
func (r *Registry) Start() {
	go r.refreshLoop()
	r.logger.Info("site registry refresh started", zap.Duration("interval", r.config.RefreshInterval))
}

// Stop ends the refresh loop
func (r *Registry) Stop() {
	r.cancel()
	<-r.done
}

func (r *Registry) refreshLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(r.ctx); err != nil {
				r.logger.Error("site registry refresh failed", zap.Error(err))
			}
		}
	}
}
