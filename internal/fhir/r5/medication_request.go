package r5

import (
	"encoding/json"
	"time"
)

// MedicationRequest represents a FHIR R5 MedicationRequest resource.
// Pharmacy orders are published as filler orders.
type MedicationRequest struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`

	// Inline resources referenced as "#id"
	Contained []Medication `json:"contained,omitempty"`

	Identifier []Identifier `json:"identifier,omitempty"`

	Status       string           `json:"status"` // active | on-hold | cancelled | completed | entered-in-error | stopped | draft | unknown
	StatusReason *CodeableConcept `json:"statusReason,omitempty"`
	Intent       string           `json:"intent"`
	Priority     string           `json:"priority,omitempty"` // routine | urgent | asap | stat

	// Medication being requested (R5 uses CodeableReference)
	Medication CodeableReference `json:"medication"`

	Subject   Reference  `json:"subject"`
	Encounter *Reference `json:"encounter,omitempty"`

	AuthoredOn *time.Time `json:"authoredOn,omitempty"`
	Requester  *Reference `json:"requester,omitempty"`
	Recorder   *Reference `json:"recorder,omitempty"`

	Note []Annotation `json:"note,omitempty"`

	RenderedDosageInstruction string           `json:"renderedDosageInstruction,omitempty"`
	DosageInstruction         []Dosage         `json:"dosageInstruction,omitempty"`
	DispenseRequest           *DispenseRequest `json:"dispenseRequest,omitempty"`
}

// Medication represents a FHIR R5 Medication resource. Only used contained
// in a MedicationRequest to carry compound ingredients.
type Medication struct {
	ResourceType string                 `json:"resourceType"`
	ID           string                 `json:"id,omitempty"`
	Code         *CodeableConcept       `json:"code,omitempty"`
	DoseForm     *CodeableConcept       `json:"doseForm,omitempty"`
	Ingredient   []MedicationIngredient `json:"ingredient,omitempty"`
}

// MedicationIngredient is one ingredient of a Medication.
type MedicationIngredient struct {
	Item             CodeableReference `json:"item"`
	IsActive         *bool             `json:"isActive,omitempty"`
	StrengthQuantity *Quantity         `json:"strengthQuantity,omitempty"`
}

// DispenseRequest contains information about the requested dispensing.
type DispenseRequest struct {
	ValidityPeriod         *Period      `json:"validityPeriod,omitempty"`
	NumberOfRepeatsAllowed int          `json:"numberOfRepeatsAllowed,omitempty"`
	Quantity               *Quantity    `json:"quantity,omitempty"`
	ExpectedSupplyDuration *Duration    `json:"expectedSupplyDuration,omitempty"`
	DispenserInstruction   []Annotation `json:"dispenserInstruction,omitempty"`
}

// Dosage contains dosage instructions for the medication.
type Dosage struct {
	Sequence         int               `json:"sequence,omitempty"`
	Text             string            `json:"text,omitempty"`
	Timing           *Timing           `json:"timing,omitempty"`
	Site             *CodeableConcept  `json:"site,omitempty"`
	Route            *CodeableConcept  `json:"route,omitempty"`
	Method           *CodeableConcept  `json:"method,omitempty"`
	DoseAndRate      []DoseAndRate     `json:"doseAndRate,omitempty"`
	MaxDosePerPeriod []Ratio           `json:"maxDosePerPeriod,omitempty"`
	AsNeededFor      []CodeableConcept `json:"asNeededFor,omitempty"`
}

// DoseAndRate contains dose/rate information.
type DoseAndRate struct {
	Type         *CodeableConcept `json:"type,omitempty"`
	DoseRange    *Range           `json:"doseRange,omitempty"`
	DoseQuantity *Quantity        `json:"doseQuantity,omitempty"`
	RateQuantity *Quantity        `json:"rateQuantity,omitempty"`
}

// Timing contains timing information for dosage.
type Timing struct {
	Repeat *TimingRepeat    `json:"repeat,omitempty"`
	Code   *CodeableConcept `json:"code,omitempty"`
}

// TimingRepeat contains repeat details for timing.
type TimingRepeat struct {
	BoundsPeriod *Period `json:"boundsPeriod,omitempty"`
	Frequency    int     `json:"frequency,omitempty"`
	Period       float64 `json:"period,omitempty"`
	PeriodUnit   string  `json:"periodUnit,omitempty"`
}

// GetPatientID extracts the patient ID from the Subject reference.
func (m *MedicationRequest) GetPatientID() string {
	if m.Subject.Reference != "" {
		return extractIDFromReference(m.Subject.Reference)
	}
	return ""
}

// GetMedication returns the contained Medication the request points at, if any.
func (m *MedicationRequest) GetMedication() *Medication {
	if m.Medication.Reference == nil {
		return nil
	}
	id := extractIDFromReference(m.Medication.Reference.Reference)
	for i := range m.Contained {
		if m.Contained[i].ID == id {
			return &m.Contained[i]
		}
	}
	return nil
}

// GetMedicationDisplay returns the display name of the medication.
func (m *MedicationRequest) GetMedicationDisplay() string {
	concept := m.Medication.Concept
	if concept == nil {
		if med := m.GetMedication(); med != nil {
			concept = med.Code
		}
	}
	if concept == nil {
		return ""
	}
	if concept.Text != "" {
		return concept.Text
	}
	if len(concept.Coding) > 0 {
		return concept.Coding[0].Display
	}
	return ""
}

// GetRefillsAllowed returns the number of refills authorized.
func (m *MedicationRequest) GetRefillsAllowed() int {
	if m.DispenseRequest == nil {
		return 0
	}
	return m.DispenseRequest.NumberOfRepeatsAllowed
}

// ToJSON serializes the MedicationRequest to JSON.
func (m *MedicationRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON deserializes a MedicationRequest from JSON.
func (m *MedicationRequest) FromJSON(data []byte) error {
	return json.Unmarshal(data, m)
}

// extractIDFromReference extracts the ID from a FHIR reference string.
func extractIDFromReference(ref string) string {
	// Handle references like "Patient/123", "urn:uuid:123" or "#med"
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' || ref[i] == ':' || ref[i] == '#' {
			return ref[i+1:]
		}
	}
	return ref
}
