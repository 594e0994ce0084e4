package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/api/middleware"
)

// SiteRegistry is the hospital site list used to filter PID-3 identifiers
type SiteRegistry interface {
	Sites() []string
	Invalidate(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// SitesHandler exposes the site registry
type SitesHandler struct {
	registry SiteRegistry
	logger   *zap.Logger
}

// NewSitesHandler creates a handler
func NewSitesHandler(registry SiteRegistry, logger *zap.Logger) *SitesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitesHandler{registry: registry, logger: logger}
}

// Routes returns the site routes
func (h *SitesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/refresh", h.Refresh)
	return r
}

// SitesResponse lists the known site codes
type SitesResponse struct {
	Sites []string `json:"sites"`
}

// List handles GET /sites
func (h *SitesHandler) List(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, SitesResponse{Sites: h.registry.Sites()})
}

// Refresh handles POST /sites/refresh after the hospital_site table changes.
// The shared cached list is dropped first so the reload reads the source and
// other instances pick the change up on their next refresh.
func (h *SitesHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With(zap.String("request_id", middleware.GetRequestID(ctx)))

	if err := h.registry.Invalidate(ctx); err != nil {
		logger.Warn("site cache invalidation failed", zap.Error(err))
	}
	if err := h.registry.Refresh(ctx); err != nil {
		logger.Error("site refresh failed", zap.Error(err))
		h.jsonResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: "site refresh failed", Category: "sites"})
		return
	}

	sites := h.registry.Sites()
	logger.Info("site registry refreshed on request", zap.Int("sites", len(sites)))
	h.jsonResponse(w, http.StatusOK, SitesResponse{Sites: sites})
}

func (h *SitesHandler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
