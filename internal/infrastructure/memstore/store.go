// Package memstore is an in-memory pharmacy.Store used by tests and the
// ingestion API when no database is configured. It enforces the same
// uniqueness, NOT NULL, length and CHECK rules as the Postgres schema.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
)

// Counts is the number of committed rows per table
type Counts struct {
	CodedElements      int
	PrescriptionOrders int
	EncodedOrders      int
	Routes             int
	Components         int
	Events             int
}

type tables struct {
	codedElements map[uuid.UUID]pharmacy.CodedElement
	codedIndex    map[pharmacy.CodedElementKey]uuid.UUID
	prescriptions map[uuid.UUID]pharmacy.PrescriptionOrder
	encodedOrders map[uuid.UUID]pharmacy.EncodedOrder
	routes        map[uuid.UUID]pharmacy.Route
	components    map[uuid.UUID]pharmacy.Component
	events        []pharmacy.Event
}

func newTables() *tables {
	return &tables{
		codedElements: make(map[uuid.UUID]pharmacy.CodedElement),
		codedIndex:    make(map[pharmacy.CodedElementKey]uuid.UUID),
		prescriptions: make(map[uuid.UUID]pharmacy.PrescriptionOrder),
		encodedOrders: make(map[uuid.UUID]pharmacy.EncodedOrder),
		routes:        make(map[uuid.UUID]pharmacy.Route),
		components:    make(map[uuid.UUID]pharmacy.Component),
	}
}

// Store holds committed rows. Transactions are serialized.
type Store struct {
	mu       sync.Mutex
	data     *tables
	patients *Patients
}

// New creates an empty store. Prescription orders must reference a patient
// registered in patients.
func New(patients *Patients) *Store {
	if patients == nil {
		patients = NewPatients()
	}
	return &Store{data: newTables(), patients: patients}
}

// WithinTx implements pharmacy.Store
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx pharmacy.StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{store: s, pending: newTables()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// Counts returns the committed row counts
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		CodedElements:      len(s.data.codedElements),
		PrescriptionOrders: len(s.data.prescriptions),
		EncodedOrders:      len(s.data.encodedOrders),
		Routes:             len(s.data.routes),
		Components:         len(s.data.components),
		Events:             len(s.data.events),
	}
}

// CodedElement returns the committed coded element for key
func (s *Store) CodedElement(key pharmacy.CodedElementKey) (pharmacy.CodedElement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.codedIndex[key]
	if !ok {
		return pharmacy.CodedElement{}, false
	}
	return s.data.codedElements[id], true
}

// PrescriptionOrder returns a committed prescription order
func (s *Store) PrescriptionOrder(id uuid.UUID) (pharmacy.PrescriptionOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.prescriptions[id]
	return p, ok
}

// EncodedOrderFor returns the encoded order of a prescription order
func (s *Store) EncodedOrderFor(prescriptionID uuid.UUID) (pharmacy.EncodedOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.data.encodedOrders {
		if e.PrescriptionOrderID == prescriptionID {
			return e, true
		}
	}
	return pharmacy.EncodedOrder{}, false
}

// Events returns the committed outbox events in commit order
func (s *Store) Events() []pharmacy.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pharmacy.Event, len(s.data.events))
	copy(out, s.data.events)
	return out
}

// Tx stages writes until WithinTx returns
type Tx struct {
	store   *Store
	pending *tables
}

func (tx *Tx) apply() {
	d := tx.store.data
	for id, c := range tx.pending.codedElements {
		d.codedElements[id] = c
		d.codedIndex[c.Key()] = id
	}
	for id, p := range tx.pending.prescriptions {
		d.prescriptions[id] = p
	}
	for id, e := range tx.pending.encodedOrders {
		d.encodedOrders[id] = e
	}
	for id, r := range tx.pending.routes {
		d.routes[id] = r
	}
	for id, c := range tx.pending.components {
		d.components[id] = c
	}
	d.events = append(d.events, tx.pending.events...)
}

func (tx *Tx) codedElementID(key pharmacy.CodedElementKey) (uuid.UUID, bool) {
	if id, ok := tx.pending.codedIndex[key]; ok {
		return id, true
	}
	id, ok := tx.store.data.codedIndex[key]
	return id, ok
}

func (tx *Tx) codedElementExists(id uuid.UUID) bool {
	if _, ok := tx.pending.codedElements[id]; ok {
		return true
	}
	_, ok := tx.store.data.codedElements[id]
	return ok
}

// FindCodedElement implements pharmacy.StoreTx
func (tx *Tx) FindCodedElement(ctx context.Context, key pharmacy.CodedElementKey) (*pharmacy.CodedElement, error) {
	id, ok := tx.codedElementID(key)
	if !ok {
		return nil, fmt.Errorf("coded element %s/%s: %w", key.Identifier, key.CodingSystem, pharmacy.ErrNotFound)
	}
	c, ok := tx.pending.codedElements[id]
	if !ok {
		c = tx.store.data.codedElements[id]
	}
	return &c, nil
}

// InsertCodedElement implements pharmacy.StoreTx
func (tx *Tx) InsertCodedElement(ctx context.Context, c *pharmacy.CodedElement) error {
	if c.ID == uuid.Nil {
		return fmt.Errorf("coded_element.id: %w", pharmacy.ErrConstraint)
	}
	if err := checkLengths("coded_element",
		col{"identifier", c.Identifier, 50},
		col{"text", c.Text, 150},
		col{"coding_system", c.CodingSystem, 50},
		col{"alternate_identifier", c.AlternateIdentifier, 50},
		col{"alternate_text", c.AlternateText, 150},
		col{"alternate_coding_system", c.AlternateCodingSystem, 50},
	); err != nil {
		return err
	}
	if _, ok := tx.codedElementID(c.Key()); ok {
		return fmt.Errorf("coded_element (%s, %s): %w", c.Identifier, c.CodingSystem, pharmacy.ErrDuplicate)
	}
	tx.pending.codedElements[c.ID] = *c
	tx.pending.codedIndex[c.Key()] = c.ID
	return nil
}

// InsertPrescriptionOrder implements pharmacy.StoreTx
func (tx *Tx) InsertPrescriptionOrder(ctx context.Context, p *pharmacy.PrescriptionOrder) error {
	const table = "physician_prescription_order"
	if !tx.store.patients.exists(p.PatientID) {
		return fmt.Errorf("%s.patient_id %s: %w", table, p.PatientID, pharmacy.ErrConstraint)
	}
	if err := checkQuantityTiming(table, &p.QuantityTiming); err != nil {
		return err
	}
	if err := notNull(table,
		nn{"visit_number", p.VisitNumber != nil},
		nn{"filler_order_number", p.FillerOrderNumber != nil},
		nn{"entered_at", p.EnteredAt != nil},
		nn{"effective_at", p.EffectiveAt != nil},
	); err != nil {
		return err
	}
	if err := checkLengths(table,
		col{"trigger_event", p.TriggerEvent, 2},
		col{"order_status", p.OrderStatus, 2},
		col{"entered_by", p.EnteredBy, 80},
		col{"verified_by", p.VerifiedBy, 80},
		col{"ordered_by", p.OrderedBy, 80},
	); err != nil {
		return err
	}
	tx.pending.prescriptions[p.ID] = *p
	return nil
}

// InsertEncodedOrder implements pharmacy.StoreTx
func (tx *Tx) InsertEncodedOrder(ctx context.Context, e *pharmacy.EncodedOrder) error {
	const table = "pharmacy_encoded_order"
	if _, ok := tx.pending.prescriptions[e.PrescriptionOrderID]; !ok {
		if _, ok := tx.store.data.prescriptions[e.PrescriptionOrderID]; !ok {
			return fmt.Errorf("%s.prescription_order_id: %w", table, pharmacy.ErrConstraint)
		}
	}
	if err := checkQuantityTiming(table, &e.QuantityTiming); err != nil {
		return err
	}
	if err := notNull(table,
		nn{"give_amount_minimum", e.GiveAmountMinimum != nil},
		nn{"dispense_amount", e.DispenseAmount != nil},
	); err != nil {
		return err
	}
	if err := checkDecimals(table,
		dec{"give_amount_minimum", e.GiveAmountMinimum},
		dec{"give_amount_maximum", e.GiveAmountMaximum},
		dec{"dispense_amount", e.DispenseAmount},
	); err != nil {
		return err
	}
	if err := checkLengths(table,
		col{"give_units", e.GiveUnits, 25},
		col{"provider_administration_instruction", e.ProviderAdministrationInstruction, 250},
		col{"dispense_units", e.DispenseUnits, 25},
	); err != nil {
		return err
	}
	if !e.FormularyStatus.Valid() {
		return fmt.Errorf("%s.formulary_status %q: %w", table, e.FormularyStatus, pharmacy.ErrConstraint)
	}
	if err := tx.checkCodedRefs(table, e.GiveCode, e.GiveDosageForm); err != nil {
		return err
	}
	for _, existing := range tx.pending.encodedOrders {
		if existing.PrescriptionOrderID == e.PrescriptionOrderID {
			return fmt.Errorf("%s.prescription_order_id: %w", table, pharmacy.ErrDuplicate)
		}
	}
	tx.pending.encodedOrders[e.ID] = *e
	return nil
}

// InsertRoute implements pharmacy.StoreTx
func (tx *Tx) InsertRoute(ctx context.Context, r *pharmacy.Route) error {
	const table = "pharmacy_route"
	if _, ok := tx.pending.encodedOrders[r.EncodedOrderID]; !ok {
		return fmt.Errorf("%s.encoded_order_id: %w", table, pharmacy.ErrConstraint)
	}
	if err := checkLengths(table,
		col{"site", r.Site, 50},
		col{"administration_device", r.AdministrationDevice, 50},
	); err != nil {
		return err
	}
	if err := tx.checkCodedRefs(table, r.Route, r.AdministrationMethod); err != nil {
		return err
	}
	tx.pending.routes[r.ID] = *r
	return nil
}

// InsertComponent implements pharmacy.StoreTx
func (tx *Tx) InsertComponent(ctx context.Context, c *pharmacy.Component) error {
	const table = "pharmacy_component"
	if _, ok := tx.pending.encodedOrders[c.EncodedOrderID]; !ok {
		return fmt.Errorf("%s.encoded_order_id: %w", table, pharmacy.ErrConstraint)
	}
	if !c.ComponentType.Valid() {
		return fmt.Errorf("%s.component_type %q: %w", table, c.ComponentType, pharmacy.ErrConstraint)
	}
	if err := notNull(table, nn{"component_amount", c.Amount != nil}); err != nil {
		return err
	}
	if err := checkDecimals(table, dec{"component_amount", c.Amount}); err != nil {
		return err
	}
	if err := checkLengths(table, col{"component_units", c.Units, 10}); err != nil {
		return err
	}
	if err := tx.checkCodedRefs(table, c.ComponentCode); err != nil {
		return err
	}
	tx.pending.components[c.ID] = *c
	return nil
}

// AppendEvent implements pharmacy.StoreTx
func (tx *Tx) AppendEvent(ctx context.Context, e *pharmacy.Event) error {
	tx.pending.events = append(tx.pending.events, *e)
	return nil
}

func (tx *Tx) checkCodedRefs(table string, refs ...*pharmacy.CodedElement) error {
	for _, ref := range refs {
		if ref != nil && !tx.codedElementExists(ref.ID) {
			return fmt.Errorf("%s: coded element %s not stored: %w", table, ref.ID, pharmacy.ErrConstraint)
		}
	}
	return nil
}

type col struct {
	name  string
	value string
	max   int
}

func checkLengths(table string, cols ...col) error {
	for _, c := range cols {
		if utf8.RuneCountInString(c.value) > c.max {
			return fmt.Errorf("%s.%s longer than %d: %w", table, c.name, c.max, pharmacy.ErrConstraint)
		}
	}
	return nil
}

type nn struct {
	name    string
	present bool
}

func notNull(table string, cols ...nn) error {
	for _, c := range cols {
		if !c.present {
			return fmt.Errorf("%s.%s is null: %w", table, c.name, pharmacy.ErrConstraint)
		}
	}
	return nil
}

type dec struct {
	name  string
	value *decimal.Decimal
}

// decimal(8,3) holds at most five integer digits
var decimalLimit = decimal.NewFromInt(100000)

func checkDecimals(table string, cols ...dec) error {
	for _, c := range cols {
		if c.value != nil && c.value.Round(3).Abs().GreaterThanOrEqual(decimalLimit) {
			return fmt.Errorf("%s.%s %s overflows decimal(8,3): %w", table, c.name, c.value, pharmacy.ErrConstraint)
		}
	}
	return nil
}

func checkQuantityTiming(table string, qt *pharmacy.QuantityTiming) error {
	if err := notNull(table,
		nn{"quantity", qt.Quantity != nil},
		nn{"service_start", qt.ServiceStart != nil},
		nn{"service_end", qt.ServiceEnd != nil},
	); err != nil {
		return err
	}
	if err := checkDecimals(table, dec{"quantity", qt.Quantity}); err != nil {
		return err
	}
	return checkLengths(table,
		col{"unit", qt.Unit, 20},
		col{"interval_pattern", qt.IntervalPattern, 100},
		col{"interval_duration", qt.IntervalDuration, 100},
		col{"duration", qt.Duration, 50},
		col{"priority", qt.Priority, 8},
	)
}
