// Package handlers provides HTTP handlers for the ingestion API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/api/middleware"
	"github.com/drfirst/go-rxhl7/internal/fhir/r5"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
	"github.com/drfirst/go-rxhl7/internal/ingest"
)

// DefaultMaxBodyBytes caps an ER7 request body
const DefaultMaxBodyBytes = 1 << 20

// Ingester is the part of the ingestion pipeline the handlers call
type Ingester interface {
	Ingest(ctx context.Context, raw []byte, source string) (*ingest.Result, error)
	Demographics(ctx context.Context, raw []byte) (*er7.PID, *r5.Patient, error)
}

// PharmacyHandler accepts ER7 pharmacy orders and demographic lookups
type PharmacyHandler struct {
	pipeline     Ingester
	maxBodyBytes int64
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewPharmacyHandler creates a handler. maxBodyBytes <= 0 uses the default.
func NewPharmacyHandler(pipeline Ingester, maxBodyBytes int64, logger *zap.Logger) *PharmacyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &PharmacyHandler{
		pipeline:     pipeline,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
		tracer:       otel.Tracer("pharmacy-handler"),
	}
}

// OrderRoutes returns the pharmacy order routes
func (h *PharmacyHandler) OrderRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateOrder)
	return r
}

// PatientRoutes returns the demographic lookup routes
func (h *PharmacyHandler) PatientRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/lookup", h.LookupPatient)
	return r
}

// CreateOrderResponse is the body of a successful order submission
type CreateOrderResponse struct {
	ID string `json:"id"`
}

// CreateOrder handles POST /pharmacy/orders
func (h *PharmacyHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_pharmacy_order")
	defer span.End()

	raw, ok := h.readER7(w, r)
	if !ok {
		return
	}

	res, err := h.pipeline.Ingest(ctx, raw, ingest.SourceHTTP)
	if err != nil {
		span.RecordError(err)
		h.pipelineError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("order.id", res.OrderID.String()))
	h.jsonResponse(w, http.StatusCreated, CreateOrderResponse{ID: res.OrderID.String()})
}

// PatientLookupResponse carries the demographics of a PID segment
type PatientLookupResponse struct {
	RAMQ     string        `json:"ramq"`
	MRNSites []er7.SiteMRN `json:"mrn_sites"`
	Patient  *r5.Patient   `json:"patient"`
}

// LookupPatient handles POST /patients/lookup. Only PID is decoded.
func (h *PharmacyHandler) LookupPatient(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "lookup_patient")
	defer span.End()

	raw, ok := h.readER7(w, r)
	if !ok {
		return
	}

	pid, patient, err := h.pipeline.Demographics(ctx, raw)
	if err != nil {
		span.RecordError(err)
		h.pipelineError(w, r, err)
		return
	}

	mrns := pid.MRNSites
	if mrns == nil {
		mrns = []er7.SiteMRN{}
	}
	h.jsonResponse(w, http.StatusOK, PatientLookupResponse{
		RAMQ:     pid.RAMQ,
		MRNSites: mrns,
		Patient:  patient,
	})
}

// readER7 checks the media type and reads the body. It writes the error
// response itself and returns false on failure.
func (h *PharmacyHandler) readER7(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != er7.MediaType {
		h.jsonError(w, http.StatusUnsupportedMediaType, "content type must be "+er7.MediaType, "media_type")
		return nil, false
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.jsonError(w, http.StatusRequestEntityTooLarge, "message too large", "size")
			return nil, false
		}
		h.jsonError(w, http.StatusBadRequest, "could not read request body", ingest.CategoryDecode)
		return nil, false
	}
	return raw, true
}

func (h *PharmacyHandler) pipelineError(w http.ResponseWriter, r *http.Request, err error) {
	category := ingest.Category(err)
	status := statusFor(category)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("pharmacy request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		msg = "internal error"
	}
	h.jsonError(w, status, msg, category)
}

func statusFor(category string) int {
	switch category {
	case ingest.CategoryDecode, ingest.CategoryMapping:
		return http.StatusBadRequest
	case ingest.CategoryPatient:
		return http.StatusNotFound
	case ingest.CategoryPersistence:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
}

func (h *PharmacyHandler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *PharmacyHandler) jsonError(w http.ResponseWriter, status int, message, category string) {
	h.jsonResponse(w, status, ErrorResponse{Error: message, Category: category})
}
