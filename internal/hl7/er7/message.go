package er7

import "time"

// SegmentType is the three-letter segment name (first field of a line)
type SegmentType string

const (
	SegmentMSH SegmentType = "MSH"
	SegmentPID SegmentType = "PID"
	SegmentPV1 SegmentType = "PV1"
	SegmentORC SegmentType = "ORC"
	SegmentRXE SegmentType = "RXE"
	SegmentRXR SegmentType = "RXR"
	SegmentRXC SegmentType = "RXC"
	SegmentNTE SegmentType = "NTE"
)

// CodedElement is the HL7 CE data type
type CodedElement struct {
	Identifier            string `json:"identifier"`
	Text                  string `json:"text"`
	CodingSystem          string `json:"coding_system"`
	AlternateIdentifier   string `json:"alternate_identifier,omitempty"`
	AlternateText         string `json:"alternate_text,omitempty"`
	AlternateCodingSystem string `json:"alternate_coding_system,omitempty"`
}

// IsBlank reports whether the primary triple carries no code.
// Alternate components are not considered.
func (c CodedElement) IsBlank() bool {
	return c.Identifier == "" && c.Text == "" && c.CodingSystem == ""
}

// Person is the id and name part of an XCN field
type Person struct {
	ID         string `json:"id"`
	FamilyName string `json:"family_name"`
	GivenName  string `json:"given_name"`
}

// QuantityTiming is the TQ data type shared by ORC-7 and RXE-1
type QuantityTiming struct {
	Quantity         string     `json:"quantity"`
	Unit             string     `json:"unit"`
	IntervalPattern  string     `json:"interval_pattern"`
	IntervalDuration string     `json:"interval_duration"`
	Duration         string     `json:"duration"`
	ServiceStart     *time.Time `json:"service_start,omitempty"`
	ServiceEnd       *time.Time `json:"service_end,omitempty"`
	Priority         string     `json:"priority"`
}

// MSH is the message header
type MSH struct {
	SendingApplication string     `json:"sending_application"`
	SendingFacility    string     `json:"sending_facility"`
	MessageDateTime    *time.Time `json:"message_datetime,omitempty"`
	MessageType        string     `json:"message_type"`
	TriggerEvent       string     `json:"trigger_event"`
	ControlID          string     `json:"control_id"`
	VersionID          string     `json:"version_id"`
}

// SiteMRN pairs a medical record number with the site that issued it
type SiteMRN struct {
	MRN  string `json:"mrn"`
	Site string `json:"site"`
}

// Address is the subset of PID-11 kept by the decoder
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// PID is patient identification
type PID struct {
	RAMQ            string     `json:"ramq"`
	MRNSites        []SiteMRN  `json:"mrn_sites"`
	LastName        string     `json:"last_name"`
	FirstName       string     `json:"first_name"`
	DateOfBirth     *time.Time `json:"date_of_birth,omitempty"`
	Sex             string     `json:"sex"`
	Address         Address    `json:"address"`
	PhoneNumber     string     `json:"phone_number"`
	PrimaryLanguage string     `json:"primary_language"`
	MaritalStatus   string     `json:"marital_status"`
}

// PV1 is patient visit
type PV1 struct {
	PointOfCare string `json:"location_poc"`
	Room        string `json:"location_room"`
	Bed         string `json:"location_bed"`
	Facility    string `json:"location_facility"`
	VisitNumber string `json:"visit_number"`
}

// ORC is the common order segment
type ORC struct {
	OrderControl      string         `json:"order_control"`
	FillerOrderNumber string         `json:"filler_order_number"`
	OrderStatus       string         `json:"order_status"`
	QuantityTiming    QuantityTiming `json:"quantity_timing"`
	EnteredAt         *time.Time     `json:"entered_at,omitempty"`
	EnteredBy         Person         `json:"entered_by"`
	VerifiedBy        Person         `json:"verified_by"`
	OrderedBy         Person         `json:"ordered_by"`
	EffectiveAt       *time.Time     `json:"effective_at,omitempty"`
}

// RXE is the pharmacy encoded order
type RXE struct {
	QuantityTiming                    QuantityTiming `json:"quantity_timing"`
	GiveCode                          CodedElement   `json:"give_code"`
	GiveAmountMinimum                 string         `json:"give_amount_minimum"`
	GiveAmountMaximum                 string         `json:"give_amount_maximum"`
	GiveUnits                         string         `json:"give_units"`
	GiveDosageForm                    CodedElement   `json:"give_dosage_form"`
	ProviderAdministrationInstruction string         `json:"provider_administration_instruction"`
	DispenseAmount                    string         `json:"dispense_amount"`
	DispenseUnits                     string         `json:"dispense_units"`
	Refills                           string         `json:"refills"`
	PrescriptionNumber                string         `json:"prescription_number"`
	RefillsDispensed                  string         `json:"refills_dispensed"`
	GivePerTime                       string         `json:"give_per_time"`
	GiveRateAmount                    string         `json:"give_rate_amount"`
	GiveRateIdentifier                string         `json:"give_rate_identifier"`
	GiveRateUnits                     string         `json:"give_rate_units"`
}

// RXR is the pharmacy route
type RXR struct {
	Route                CodedElement `json:"route"`
	Site                 string       `json:"site"`
	AdministrationDevice string       `json:"administration_device"`
	AdministrationMethod CodedElement `json:"administration_method"`
}

// RXC is one pharmacy component
type RXC struct {
	ComponentType string       `json:"component_type"`
	Component     CodedElement `json:"component"`
	Amount        string       `json:"amount"`
	Units         string       `json:"units"`
}

// NTE is a note
type NTE struct {
	SetID   string `json:"note_id"`
	Source  string `json:"comment_id"`
	Comment string `json:"comment_text"`
}

// ParsedMessage holds the decoded segments of one message.
// Singletons are nil when absent, repeatable types are nil slices.
type ParsedMessage struct {
	MSH *MSH  `json:"msh,omitempty"`
	PID *PID  `json:"pid,omitempty"`
	PV1 []PV1 `json:"pv1,omitempty"`
	ORC []ORC `json:"orc,omitempty"`
	RXE []RXE `json:"rxe,omitempty"`
	RXR []RXR `json:"rxr,omitempty"`
	RXC []RXC `json:"rxc,omitempty"`
	NTE []NTE `json:"nte,omitempty"`

	// Skipped lists segment names that were seen but not extracted, in order.
	Skipped []SegmentType `json:"-"`
}

// Count returns how many instances of t were extracted
func (m *ParsedMessage) Count(t SegmentType) int {
	switch t {
	case SegmentMSH:
		if m.MSH != nil {
			return 1
		}
	case SegmentPID:
		if m.PID != nil {
			return 1
		}
	case SegmentPV1:
		return len(m.PV1)
	case SegmentORC:
		return len(m.ORC)
	case SegmentRXE:
		return len(m.RXE)
	case SegmentRXR:
		return len(m.RXR)
	case SegmentRXC:
		return len(m.RXC)
	case SegmentNTE:
		return len(m.NTE)
	}
	return 0
}

// Has reports whether at least one instance of t was extracted
func (m *ParsedMessage) Has(t SegmentType) bool {
	return m.Count(t) > 0
}

// Filter restricts decoding to a set of segment types.
// A nil or empty filter admits every known type.
type Filter map[SegmentType]struct{}

// NewFilter builds a filter from segment types
func NewFilter(types ...SegmentType) Filter {
	f := make(Filter, len(types))
	for _, t := range types {
		f[t] = struct{}{}
	}
	return f
}

// Contains reports whether t passes the filter
func (f Filter) Contains(t SegmentType) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[t]
	return ok
}
