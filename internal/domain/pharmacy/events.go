package pharmacy

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventOrderIngested EventType = "PharmacyOrderIngested"
)

// AggregateType is the outbox aggregate type for pharmacy orders
const AggregateType = "PharmacyOrder"

// Event represents a domain event written to the outbox
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID uuid.UUID, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID.String(),
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// OrderIngestedData is the payload of EventOrderIngested
type OrderIngestedData struct {
	PrescriptionOrderID uuid.UUID       `json:"prescription_order_id"`
	EncodedOrderID      uuid.UUID       `json:"encoded_order_id"`
	PatientID           uuid.UUID       `json:"patient_id"`
	FillerOrderNumber   *int64          `json:"filler_order_number,omitempty"`
	TriggerEvent        string          `json:"trigger_event"`
	GiveCode            string          `json:"give_code,omitempty"`
	GiveCodeText        string          `json:"give_code_text,omitempty"`
	FormularyStatus     FormularyStatus `json:"formulary_status,omitempty"`
	ComponentCount      int             `json:"component_count"`
	FHIRPayload         json.RawMessage `json:"fhir_payload,omitempty"`
	IngestedAt          time.Time       `json:"ingested_at"`
}

// newOrderIngestedEvent builds the outbox event for a resolved submission
func newOrderIngestedEvent(s *OrderSubmission, correlationID string) (*Event, error) {
	data := OrderIngestedData{
		PrescriptionOrderID: s.Prescription.ID,
		EncodedOrderID:      s.EncodedOrder.ID,
		PatientID:           s.Prescription.PatientID,
		FillerOrderNumber:   s.Prescription.FillerOrderNumber,
		TriggerEvent:        s.Prescription.TriggerEvent,
		FormularyStatus:     s.EncodedOrder.FormularyStatus,
		ComponentCount:      len(s.Components),
		IngestedAt:          time.Now().UTC(),
	}
	if gc := s.EncodedOrder.GiveCode; gc != nil {
		data.GiveCode = gc.Identifier
		data.GiveCodeText = gc.Text
	}
	fhir, err := json.Marshal(s.MedicationRequest())
	if err != nil {
		return nil, err
	}
	data.FHIRPayload = fhir

	event, err := NewEvent(s.Prescription.ID, EventOrderIngested, data)
	if err != nil {
		return nil, err
	}
	event.CorrelationID = correlationID
	return event, nil
}
