package pharmacy

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxhl7/internal/fhir/r5"
)

// orderStatuses maps ORC-5 to MedicationRequest.status
var orderStatuses = map[string]string{
	"CM": r5.StatusCompleted,
	"CA": r5.StatusCancelled,
	"DC": r5.StatusStopped,
	"HD": r5.StatusOnHold,
	"ER": r5.StatusEnteredInError,
}

// priorities maps quantity/timing priority to MedicationRequest.priority
var priorities = map[string]string{
	"S": "stat",
	"A": "asap",
	"R": "routine",
	"P": "urgent",
}

// MedicationRequest renders the submission as a FHIR R5 MedicationRequest.
// Components travel as a contained Medication.
func (s *OrderSubmission) MedicationRequest() *r5.MedicationRequest {
	p := &s.Prescription
	e := &s.EncodedOrder

	status, ok := orderStatuses[p.OrderStatus]
	if !ok {
		status = r5.StatusActive
	}

	mr := &r5.MedicationRequest{
		ResourceType: "MedicationRequest",
		ID:           p.ID.String(),
		Status:       status,
		Intent:       r5.IntentFillerOrder,
		Priority:     priorities[p.Priority],
		Subject:      r5.Reference{Reference: "Patient/" + p.PatientID.String()},
	}
	mr.RenderedDosageInstruction = e.ProviderAdministrationInstruction
	if p.FillerOrderNumber != nil {
		mr.Identifier = append(mr.Identifier, r5.Identifier{
			Use:    "official",
			System: r5.SystemFiller,
			Value:  strconv.FormatInt(*p.FillerOrderNumber, 10),
		})
	}
	if p.VisitNumber != nil {
		mr.Encounter = &r5.Reference{Identifier: &r5.Identifier{Value: strconv.FormatInt(*p.VisitNumber, 10)}}
	}
	mr.AuthoredOn = p.EnteredAt
	if p.OrderedBy != "" {
		mr.Requester = &r5.Reference{Display: p.OrderedBy}
	}
	if p.EnteredBy != "" {
		mr.Recorder = &r5.Reference{Display: p.EnteredBy}
	}

	if len(s.Components) > 0 {
		med := r5.Medication{ResourceType: "Medication", ID: "med", Code: codeableConcept(e.GiveCode), DoseForm: codeableConcept(e.GiveDosageForm)}
		for _, c := range s.Components {
			active := c.ComponentType == ComponentAdditive
			med.Ingredient = append(med.Ingredient, r5.MedicationIngredient{
				Item:             r5.CodeableReference{Concept: codeableConcept(c.ComponentCode)},
				IsActive:         &active,
				StrengthQuantity: quantity(c.Amount, c.Units),
			})
		}
		mr.Contained = append(mr.Contained, med)
		mr.Medication = r5.CodeableReference{Reference: &r5.Reference{Reference: "#med"}}
	} else {
		mr.Medication = r5.CodeableReference{Concept: codeableConcept(e.GiveCode)}
	}

	dosage := r5.Dosage{
		Sequence: 1,
		Text:     e.ProviderAdministrationInstruction,
		Route:    codeableConcept(s.Route.Route),
		Method:   codeableConcept(s.Route.AdministrationMethod),
		Timing:   timing(&e.QuantityTiming),
	}
	if s.Route.Site != "" {
		dosage.Site = &r5.CodeableConcept{Text: s.Route.Site}
	}
	if e.GiveAmountMinimum != nil {
		dr := r5.DoseAndRate{}
		if e.GiveAmountMaximum != nil {
			dr.DoseRange = &r5.Range{
				Low:  quantity(e.GiveAmountMinimum, e.GiveUnits),
				High: quantity(e.GiveAmountMaximum, e.GiveUnits),
			}
		} else {
			dr.DoseQuantity = quantity(e.GiveAmountMinimum, e.GiveUnits)
		}
		dosage.DoseAndRate = append(dosage.DoseAndRate, dr)
	}
	mr.DosageInstruction = []r5.Dosage{dosage}

	mr.DispenseRequest = &r5.DispenseRequest{
		NumberOfRepeatsAllowed: e.Refills,
		Quantity:               quantity(e.DispenseAmount, e.DispenseUnits),
	}
	if e.ServiceStart != nil || e.ServiceEnd != nil {
		mr.DispenseRequest.ValidityPeriod = period(&e.QuantityTiming)
	}
	if e.FormularyStatus != "" {
		mr.Note = append(mr.Note, r5.Annotation{Text: "formulary status: " + string(e.FormularyStatus)})
	}
	return mr
}

func codeableConcept(c *CodedElement) *r5.CodeableConcept {
	if c == nil {
		return nil
	}
	cc := &r5.CodeableConcept{Text: c.Text}
	if c.Identifier != "" {
		cc.Coding = append(cc.Coding, r5.Coding{System: c.CodingSystem, Code: c.Identifier, Display: c.Text})
	}
	if c.AlternateIdentifier != "" {
		cc.Coding = append(cc.Coding, r5.Coding{System: c.AlternateCodingSystem, Code: c.AlternateIdentifier, Display: c.AlternateText})
	}
	return cc
}

func quantity(d *decimal.Decimal, unit string) *r5.Quantity {
	if d == nil {
		return nil
	}
	return &r5.Quantity{Value: d.InexactFloat64(), Unit: unit}
}

func period(qt *QuantityTiming) *r5.Period {
	return &r5.Period{Start: qt.ServiceStart, End: qt.ServiceEnd}
}

func timing(qt *QuantityTiming) *r5.Timing {
	if qt.IntervalPattern == "" && qt.ServiceStart == nil && qt.ServiceEnd == nil {
		return nil
	}
	t := &r5.Timing{Repeat: &r5.TimingRepeat{BoundsPeriod: period(qt)}}
	if qt.IntervalPattern != "" {
		t.Code = &r5.CodeableConcept{Text: qt.IntervalPattern}
	}
	return t
}
