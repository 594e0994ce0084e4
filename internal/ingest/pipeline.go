// Package ingest runs one HL7 message through decoding, patient
// resolution, mapping and the deduplicating commit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
	"github.com/drfirst/go-rxhl7/internal/fhir/r5"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
	"github.com/drfirst/go-rxhl7/internal/hl7/mapper"
)

// Message sources
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// ErrPatientNotFound is returned when no hospital patient matches the PID
var ErrPatientNotFound = errors.New("patient not found")

// PatientResolver finds the hospital patient a PID segment refers to.
// It wraps pharmacy.ErrNotFound when there is no match.
type PatientResolver interface {
	ResolvePatient(ctx context.Context, pid *er7.PID) (uuid.UUID, error)
}

// Committer persists a mapped order
type Committer interface {
	Commit(ctx context.Context, s *pharmacy.OrderSubmission) (uuid.UUID, error)
}

// Recorder receives pipeline outcomes
type Recorder interface {
	MessageReceived(source string)
	OrderIngested(elapsed time.Duration)
	OrderRejected(category string)
}

// Result describes a committed order
type Result struct {
	OrderID   uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	ControlID string    `json:"control_id,omitempty"`
}

// Pipeline chains the decoder, the mapper and the repository
type Pipeline struct {
	decoder  *er7.Decoder
	mapper   *mapper.Mapper
	patients PatientResolver
	orders   Committer
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a pipeline. recorder may be nil.
func New(decoder *er7.Decoder, patients PatientResolver, orders Committer, recorder Recorder, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		decoder:  decoder,
		mapper:   mapper.New(),
		patients: patients,
		orders:   orders,
		recorder: recorder,
		logger:   logger,
		tracer:   otel.Tracer("ingest"),
	}
}

// Ingest decodes raw, resolves its patient and commits the pharmacy order.
// Errors can be classified with Category.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte, source string) (*Result, error) {
	return p.IngestPayload(ctx, raw, source)
}

// IngestPayload is Ingest for a payload of any type the decoder accepts:
// []byte, string or io.Reader. Other types fail with an unsupported input
// decode error.
func (p *Pipeline) IngestPayload(ctx context.Context, payload any, source string) (*Result, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ingest_message",
		trace.WithAttributes(attribute.String("source", source)))
	defer span.End()
	if raw, ok := payload.([]byte); ok {
		span.SetAttributes(attribute.Int("message.bytes", len(raw)))
	}

	if p.recorder != nil {
		p.recorder.MessageReceived(source)
	}

	res, err := p.ingest(ctx, payload)
	if err != nil {
		category := Category(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, category)
		if p.recorder != nil {
			p.recorder.OrderRejected(category)
		}
		p.logger.Warn("pharmacy order not ingested",
			zap.String("source", source),
			zap.String("category", category),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", res.OrderID.String()))
	if p.recorder != nil {
		p.recorder.OrderIngested(time.Since(start))
	}
	p.logger.Info("pharmacy order ingested",
		zap.String("source", source),
		zap.String("order_id", res.OrderID.String()),
		zap.String("control_id", res.ControlID))
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, payload any) (*Result, error) {
	msg, err := p.decoder.DecodePayload(payload, nil)
	if err != nil {
		return nil, err
	}
	// fail on structure before touching the patient directory
	if err := mapper.CheckSegments(msg); err != nil {
		return nil, err
	}
	if msg.PID == nil {
		return nil, &mapper.MappingError{Kind: mapper.KindMissingSegment, Segment: er7.SegmentPID}
	}

	patientID, err := p.patients.ResolvePatient(ctx, msg.PID)
	if err != nil {
		if errors.Is(err, pharmacy.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrPatientNotFound, err)
		}
		return nil, fmt.Errorf("resolve patient: %w", err)
	}

	sub, err := p.mapper.Map(msg, patientID)
	if err != nil {
		return nil, err
	}

	res := &Result{PatientID: patientID}
	if msg.MSH != nil && msg.MSH.ControlID != "" {
		res.ControlID = msg.MSH.ControlID
		ctx = pharmacy.WithCorrelationID(ctx, msg.MSH.ControlID)
	}

	res.OrderID, err = p.orders.Commit(ctx, sub)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Demographics decodes only the PID segment of raw and returns it with its
// FHIR Patient view. MRNs from unknown sites have already been dropped.
func (p *Pipeline) Demographics(ctx context.Context, raw []byte) (*er7.PID, *r5.Patient, error) {
	_, span := p.tracer.Start(ctx, "decode_demographics")
	defer span.End()

	msg, err := p.decoder.Decode(raw, er7.NewFilter(er7.SegmentPID))
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	if msg.PID == nil {
		return nil, nil, &mapper.MappingError{Kind: mapper.KindMissingSegment, Segment: er7.SegmentPID}
	}
	return msg.PID, mapper.Patient(msg.PID), nil
}

// Failure categories
const (
	CategoryDecode      = "decode"
	CategoryMapping     = "mapping"
	CategoryPatient     = "patient"
	CategoryPersistence = "persistence"
	CategoryInternal    = "internal"
)

// Category classifies a pipeline error
func Category(err error) string {
	var decodeErr *er7.DecodeError
	var mappingErr *mapper.MappingError
	var persistErr *pharmacy.PersistError
	switch {
	case errors.As(err, &decodeErr):
		return CategoryDecode
	case errors.As(err, &mappingErr):
		return CategoryMapping
	case errors.Is(err, ErrPatientNotFound):
		return CategoryPatient
	case errors.As(err, &persistErr):
		return CategoryPersistence
	}
	return CategoryInternal
}

// IsTerminal reports errors that a retry of the same message cannot fix
func IsTerminal(err error) bool {
	return Category(err) != CategoryInternal
}
