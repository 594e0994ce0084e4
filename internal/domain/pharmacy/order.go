// Package pharmacy holds the pharmacy order tree and its persistence rules.
package pharmacy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Defaults applied by the mapper when the message leaves a field empty
const (
	DefaultDuration    = "INDEF"
	DefaultPriority    = "R"
	DefaultOrderStatus = "SC"
)

// FormularyStatus is where the drug is dispensed from (NTE-3)
type FormularyStatus string

const (
	FormularyStandard   FormularyStatus = "STD"
	FormularyAmbulatory FormularyStatus = "AMB"
	FormularyLeave      FormularyStatus = "LOA"
	FormularyTakeHome   FormularyStatus = "TH"
	FormularySelf       FormularyStatus = "SELF"
)

// Valid reports whether s is a known formulary status
func (s FormularyStatus) Valid() bool {
	switch s {
	case FormularyStandard, FormularyAmbulatory, FormularyLeave, FormularyTakeHome, FormularySelf:
		return true
	}
	return false
}

// ComponentType is RXC-1
type ComponentType string

const (
	ComponentAdditive ComponentType = "A"
	ComponentBase     ComponentType = "B"
	ComponentText     ComponentType = "T"
)

// Valid reports whether t is a known component type
func (t ComponentType) Valid() bool {
	switch t {
	case ComponentAdditive, ComponentBase, ComponentText:
		return true
	}
	return false
}

// CodedElementKey is the identity of a coded element
type CodedElementKey struct {
	Identifier   string
	CodingSystem string
}

// CodedElement is a shared terminology code. Rows are created on first
// reference and then only ever reused.
type CodedElement struct {
	ID                    uuid.UUID `json:"id"`
	Identifier            string    `json:"identifier"`
	Text                  string    `json:"text"`
	CodingSystem          string    `json:"coding_system"`
	AlternateIdentifier   string    `json:"alternate_identifier"`
	AlternateText         string    `json:"alternate_text"`
	AlternateCodingSystem string    `json:"alternate_coding_system"`
}

// Key returns the deduplication key
func (c *CodedElement) Key() CodedElementKey {
	return CodedElementKey{Identifier: c.Identifier, CodingSystem: c.CodingSystem}
}

// QuantityTiming is shared by the physician order and the encoded order
type QuantityTiming struct {
	Quantity         *decimal.Decimal `json:"quantity"`
	Unit             string           `json:"unit"`
	IntervalPattern  string           `json:"interval_pattern"`
	IntervalDuration string           `json:"interval_duration"`
	Duration         string           `json:"duration"`
	ServiceStart     *time.Time       `json:"service_start"`
	ServiceEnd       *time.Time       `json:"service_end"`
	Priority         string           `json:"priority"`
}

// PrescriptionOrder is the order as written by the physician
type PrescriptionOrder struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	QuantityTiming
	VisitNumber       *int64     `json:"visit_number"`
	TriggerEvent      string     `json:"trigger_event"`
	FillerOrderNumber *int64     `json:"filler_order_number"`
	OrderStatus       string     `json:"order_status"`
	EnteredAt         *time.Time `json:"entered_at"`
	EnteredBy         string     `json:"entered_by"`
	VerifiedBy        string     `json:"verified_by"`
	OrderedBy         string     `json:"ordered_by"`
	EffectiveAt       *time.Time `json:"effective_at"`
}

// EncodedOrder is the order as filled by the pharmacy
type EncodedOrder struct {
	ID                  uuid.UUID `json:"id"`
	PrescriptionOrderID uuid.UUID `json:"prescription_order_id"`
	QuantityTiming
	GiveCode                          *CodedElement    `json:"give_code"`
	GiveAmountMinimum                 *decimal.Decimal `json:"give_amount_minimum"`
	GiveAmountMaximum                 *decimal.Decimal `json:"give_amount_maximum"`
	GiveUnits                         string           `json:"give_units"`
	GiveDosageForm                    *CodedElement    `json:"give_dosage_form"`
	ProviderAdministrationInstruction string           `json:"provider_administration_instruction"`
	DispenseAmount                    *decimal.Decimal `json:"dispense_amount"`
	DispenseUnits                     string           `json:"dispense_units"`
	Refills                           int              `json:"refills"`
	FormularyStatus                   FormularyStatus  `json:"formulary_status"`
}

// Route is how the encoded order is administered
type Route struct {
	ID                   uuid.UUID     `json:"id"`
	EncodedOrderID       uuid.UUID     `json:"encoded_order_id"`
	Route                *CodedElement `json:"route"`
	Site                 string        `json:"site"`
	AdministrationDevice string        `json:"administration_device"`
	AdministrationMethod *CodedElement `json:"administration_method"`
}

// Component is one ingredient of the encoded order
type Component struct {
	ID             uuid.UUID        `json:"id"`
	EncodedOrderID uuid.UUID        `json:"encoded_order_id"`
	ComponentType  ComponentType    `json:"component_type"`
	ComponentCode  *CodedElement    `json:"component_code"`
	Amount         *decimal.Decimal `json:"component_amount"`
	Units          string           `json:"component_units"`
}

// OrderSubmission is the unpersisted tree for one message
type OrderSubmission struct {
	Prescription PrescriptionOrder `json:"prescription"`
	EncodedOrder EncodedOrder      `json:"encoded_order"`
	Route        Route             `json:"route"`
	Components   []Component       `json:"components"`
}

// clone copies the row structs and the component slice. Coded elements are
// shared; resolution replaces slot pointers and never mutates them.
func (s *OrderSubmission) clone() *OrderSubmission {
	c := *s
	c.Components = append([]Component(nil), s.Components...)
	return &c
}

// codedSlots returns every coded element reference in the tree, in
// resolution order. Nil slots are included so callers can skip them.
func (s *OrderSubmission) codedSlots() []**CodedElement {
	slots := []**CodedElement{
		&s.EncodedOrder.GiveCode,
		&s.EncodedOrder.GiveDosageForm,
		&s.Route.Route,
		&s.Route.AdministrationMethod,
	}
	for i := range s.Components {
		slots = append(slots, &s.Components[i].ComponentCode)
	}
	return slots
}
