package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Store opens transactions against the order tables. fn runs inside one
// transaction; a non-nil return rolls it back.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error
}

// StoreTx is the set of writes one commit needs. Implementations wrap
// ErrNotFound, ErrDuplicate and ErrConstraint so failures can be classified.
// A failed InsertCodedElement must leave the transaction usable.
type StoreTx interface {
	FindCodedElement(ctx context.Context, key CodedElementKey) (*CodedElement, error)
	InsertCodedElement(ctx context.Context, c *CodedElement) error
	InsertPrescriptionOrder(ctx context.Context, p *PrescriptionOrder) error
	InsertEncodedOrder(ctx context.Context, e *EncodedOrder) error
	InsertRoute(ctx context.Context, r *Route) error
	InsertComponent(ctx context.Context, c *Component) error
	AppendEvent(ctx context.Context, e *Event) error
}

// Resolution outcomes reported to an Observer
const (
	ResolvedReused   = "reused"
	ResolvedCreated  = "created"
	ResolvedConflict = "conflict"
)

// Observer receives coded element resolution outcomes
type Observer interface {
	CodedElementResolved(outcome string)
}

// Repository commits order submissions with coded element deduplication
type Repository struct {
	store    Store
	logger   *zap.Logger
	tracer   trace.Tracer
	observer Observer
}

// NewRepository creates a new repository
func NewRepository(store Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("pharmacy-repository"),
	}
}

// WithObserver sets the resolution observer
func (r *Repository) WithObserver(o Observer) *Repository {
	r.observer = o
	return r
}

// Commit persists the submission in one transaction and returns the new
// prescription order id. Coded elements are reused by (identifier,
// coding system); every other row is new. Row ids and resolved coded
// elements are written back to s only when the transaction commits; after
// a failure s is unchanged and may be committed again.
func (r *Repository) Commit(ctx context.Context, s *OrderSubmission) (uuid.UUID, error) {
	ctx, span := r.tracer.Start(ctx, "commit_order",
		trace.WithAttributes(attribute.Int("order.components", len(s.Components))),
	)
	defer span.End()

	if s.Prescription.PatientID == uuid.Nil {
		err := rejected("prescription order has no patient", nil)
		span.RecordError(err)
		return uuid.Nil, err
	}

	var work *OrderSubmission
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx StoreTx) error {
		work = s.clone()
		resolved := make(map[CodedElementKey]*CodedElement)
		for _, slot := range work.codedSlots() {
			if *slot == nil {
				continue
			}
			ce, err := r.resolveCodedElement(ctx, tx, resolved, *slot)
			if err != nil {
				return err
			}
			*slot = ce
		}

		assignIDs(work)

		if err := tx.InsertPrescriptionOrder(ctx, &work.Prescription); err != nil {
			return classify("prescription order", err)
		}
		if err := tx.InsertEncodedOrder(ctx, &work.EncodedOrder); err != nil {
			return classify("encoded order", err)
		}
		if err := tx.InsertRoute(ctx, &work.Route); err != nil {
			return classify("route", err)
		}
		for i := range work.Components {
			if err := tx.InsertComponent(ctx, &work.Components[i]); err != nil {
				return classify(fmt.Sprintf("component %d", i+1), err)
			}
		}

		event, err := newOrderIngestedEvent(work, correlationID(ctx))
		if err != nil {
			return fmt.Errorf("build event: %w", err)
		}
		if err := tx.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var pe *PersistError
		if errors.As(err, &pe) {
			r.logger.Warn("order rejected", zap.String("reason", pe.Reason), zap.Error(pe.Cause))
			return uuid.Nil, pe
		}
		return uuid.Nil, fmt.Errorf("commit order: %w", err)
	}

	*s = *work
	span.SetAttributes(attribute.String("order.id", s.Prescription.ID.String()))
	r.logger.Info("order committed",
		zap.String("prescription_order_id", s.Prescription.ID.String()),
		zap.String("patient_id", s.Prescription.PatientID.String()),
		zap.Int("components", len(s.Components)),
	)
	return s.Prescription.ID, nil
}

// resolveCodedElement returns the stored row for c's key, inserting it when
// absent. A unique violation on insert means a concurrent commit created the
// row first; it is re-read once and reused.
func (r *Repository) resolveCodedElement(ctx context.Context, tx StoreTx, resolved map[CodedElementKey]*CodedElement, c *CodedElement) (*CodedElement, error) {
	key := c.Key()
	if ce, ok := resolved[key]; ok {
		return ce, nil
	}

	ce, err := tx.FindCodedElement(ctx, key)
	switch {
	case err == nil:
		r.observe(ResolvedReused)
	case errors.Is(err, ErrNotFound):
		candidate := *c
		candidate.ID = uuid.New()
		err = tx.InsertCodedElement(ctx, &candidate)
		switch {
		case err == nil:
			ce = &candidate
			r.observe(ResolvedCreated)
		case errors.Is(err, ErrDuplicate):
			r.observe(ResolvedConflict)
			r.logger.Debug("coded element created concurrently, re-reading",
				zap.String("identifier", key.Identifier),
				zap.String("coding_system", key.CodingSystem),
			)
			ce, err = tx.FindCodedElement(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("re-read coded element %s/%s: %w", key.Identifier, key.CodingSystem, err)
			}
		default:
			return nil, classify(fmt.Sprintf("coded element %s/%s", key.Identifier, key.CodingSystem), err)
		}
	default:
		return nil, fmt.Errorf("find coded element %s/%s: %w", key.Identifier, key.CodingSystem, err)
	}

	resolved[key] = ce
	return ce, nil
}

func (r *Repository) observe(outcome string) {
	if r.observer != nil {
		r.observer.CodedElementResolved(outcome)
	}
}

func assignIDs(s *OrderSubmission) {
	s.Prescription.ID = uuid.New()
	s.EncodedOrder.ID = uuid.New()
	s.EncodedOrder.PrescriptionOrderID = s.Prescription.ID
	s.Route.ID = uuid.New()
	s.Route.EncodedOrderID = s.EncodedOrder.ID
	for i := range s.Components {
		s.Components[i].ID = uuid.New()
		s.Components[i].EncodedOrderID = s.EncodedOrder.ID
	}
}

// classify turns constraint failures on order rows into rejections
func classify(row string, err error) error {
	if errors.Is(err, ErrConstraint) || errors.Is(err, ErrDuplicate) {
		return rejected(fmt.Sprintf("%s: %v", row, err), err)
	}
	return fmt.Errorf("insert %s: %w", row, err)
}

type correlationKey struct{}

// WithCorrelationID attaches an id that is copied onto outbox events
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
