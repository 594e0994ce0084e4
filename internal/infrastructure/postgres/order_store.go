package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
)

// OrderStore implements pharmacy.Store on PostgreSQL
type OrderStore struct {
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
}

// NewOrderStore creates a store. Outbox entries are addressed to topic.
func NewOrderStore(pool *pgxpool.Pool, topic string, logger *zap.Logger) *OrderStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderStore{pool: pool, topic: topic, logger: logger}
}

// WithinTx implements pharmacy.Store
func (s *OrderStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pharmacy.StoreTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &orderTx{tx: tx, topic: s.topic}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError("commit", err)
	}
	return nil
}

type orderTx struct {
	tx    pgx.Tx
	topic string
}

const codedElementColumns = `id, identifier, text, coding_system, alternate_identifier, alternate_text, alternate_coding_system`

// FindCodedElement implements pharmacy.StoreTx
func (t *orderTx) FindCodedElement(ctx context.Context, key pharmacy.CodedElementKey) (*pharmacy.CodedElement, error) {
	query := `SELECT ` + codedElementColumns + `
		FROM coded_element
		WHERE identifier = $1 AND coding_system = $2`

	c := &pharmacy.CodedElement{}
	err := t.tx.QueryRow(ctx, query, key.Identifier, key.CodingSystem).Scan(
		&c.ID, &c.Identifier, &c.Text, &c.CodingSystem,
		&c.AlternateIdentifier, &c.AlternateText, &c.AlternateCodingSystem,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("coded element %s/%s: %w", key.Identifier, key.CodingSystem, pharmacy.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select coded element: %w", err)
	}
	return c, nil
}

// InsertCodedElement implements pharmacy.StoreTx. The insert runs under a
// savepoint so a unique violation leaves the outer transaction usable.
func (t *orderTx) InsertCodedElement(ctx context.Context, c *pharmacy.CodedElement) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	query := `INSERT INTO coded_element (` + codedElementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = sp.Exec(ctx, query,
		c.ID, c.Identifier, c.Text, c.CodingSystem,
		c.AlternateIdentifier, c.AlternateText, c.AlternateCodingSystem,
	)
	if err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback savepoint: %w", rbErr)
		}
		return classifyPgError("insert coded element", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// InsertPrescriptionOrder implements pharmacy.StoreTx
func (t *orderTx) InsertPrescriptionOrder(ctx context.Context, p *pharmacy.PrescriptionOrder) error {
	query := `
		INSERT INTO physician_prescription_order
		(id, patient_id, quantity, unit, interval_pattern, interval_duration, duration,
		 service_start, service_end, priority, visit_number, trigger_event, filler_order_number,
		 order_status, entered_at, entered_by, verified_by, ordered_by, effective_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	qt := &p.QuantityTiming
	_, err := t.tx.Exec(ctx, query,
		p.ID, p.PatientID, qt.Quantity, qt.Unit, qt.IntervalPattern, qt.IntervalDuration, qt.Duration,
		qt.ServiceStart, qt.ServiceEnd, qt.Priority, p.VisitNumber, p.TriggerEvent, p.FillerOrderNumber,
		p.OrderStatus, p.EnteredAt, p.EnteredBy, p.VerifiedBy, p.OrderedBy, p.EffectiveAt,
	)
	if err != nil {
		return classifyPgError("insert prescription order", err)
	}
	return nil
}

// InsertEncodedOrder implements pharmacy.StoreTx
func (t *orderTx) InsertEncodedOrder(ctx context.Context, e *pharmacy.EncodedOrder) error {
	query := `
		INSERT INTO pharmacy_encoded_order
		(id, physician_prescription_order_id, quantity, unit, interval_pattern, interval_duration,
		 duration, service_start, service_end, priority, give_code_id, give_amount_maximum,
		 give_amount_minimum, give_units, give_dosage_form_id, provider_administration_instruction,
		 dispense_amount, dispense_units, refills, formulary_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	qt := &e.QuantityTiming
	_, err := t.tx.Exec(ctx, query,
		e.ID, e.PrescriptionOrderID, qt.Quantity, qt.Unit, qt.IntervalPattern, qt.IntervalDuration,
		qt.Duration, qt.ServiceStart, qt.ServiceEnd, qt.Priority, codedElementID(e.GiveCode), e.GiveAmountMaximum,
		e.GiveAmountMinimum, e.GiveUnits, codedElementID(e.GiveDosageForm), e.ProviderAdministrationInstruction,
		e.DispenseAmount, e.DispenseUnits, e.Refills, string(e.FormularyStatus),
	)
	if err != nil {
		return classifyPgError("insert encoded order", err)
	}
	return nil
}

// InsertRoute implements pharmacy.StoreTx
func (t *orderTx) InsertRoute(ctx context.Context, r *pharmacy.Route) error {
	query := `
		INSERT INTO pharmacy_route
		(id, pharmacy_encoded_order_id, route_id, site, administration_device, administration_method_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := t.tx.Exec(ctx, query,
		r.ID, r.EncodedOrderID, codedElementID(r.Route), r.Site, r.AdministrationDevice,
		codedElementID(r.AdministrationMethod),
	)
	if err != nil {
		return classifyPgError("insert route", err)
	}
	return nil
}

// InsertComponent implements pharmacy.StoreTx
func (t *orderTx) InsertComponent(ctx context.Context, c *pharmacy.Component) error {
	query := `
		INSERT INTO pharmacy_component
		(id, pharmacy_encoded_order_id, component_type, component_code_id, component_amount, component_units)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := t.tx.Exec(ctx, query,
		c.ID, c.EncodedOrderID, string(c.ComponentType), codedElementID(c.ComponentCode), c.Amount, c.Units,
	)
	if err != nil {
		return classifyPgError("insert component", err)
	}
	return nil
}

// AppendEvent implements pharmacy.StoreTx
func (t *orderTx) AppendEvent(ctx context.Context, e *pharmacy.Event) error {
	entry, err := entryFromEvent(e, t.topic)
	if err != nil {
		return err
	}
	return WriteEntry(ctx, t.tx, entry)
}

// codedElementID returns nil for an absent reference so the column is NULL
func codedElementID(c *pharmacy.CodedElement) *uuid.UUID {
	if c == nil {
		return nil
	}
	return &c.ID
}
