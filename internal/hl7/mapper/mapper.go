// Package mapper turns a decoded pharmacy message into the order tree that
// is persisted by the pharmacy repository.
package mapper

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
)

// requiredOnce lists the segments that must appear exactly once, in the
// order they are checked. RXC follows and may repeat.
var requiredOnce = []er7.SegmentType{
	er7.SegmentORC,
	er7.SegmentPV1,
	er7.SegmentRXE,
	er7.SegmentRXR,
	er7.SegmentNTE,
}

// Mapper builds order submissions. It holds no state.
type Mapper struct{}

// New creates a mapper
func New() *Mapper {
	return &Mapper{}
}

// CheckSegments reports the first missing required segment, then the first
// exactly-once segment that repeats.
func CheckSegments(msg *er7.ParsedMessage) error {
	for _, t := range requiredOnce {
		if msg.Count(t) == 0 {
			return missingSegment(t)
		}
	}
	if msg.Count(er7.SegmentRXC) == 0 {
		return missingSegment(er7.SegmentRXC)
	}
	for _, t := range requiredOnce {
		if msg.Count(t) > 1 {
			return duplicateSegment(t)
		}
	}
	return nil
}

// Map builds the order tree for patientID. The result is a pure function of
// its inputs.
func (m *Mapper) Map(msg *er7.ParsedMessage, patientID uuid.UUID) (*pharmacy.OrderSubmission, error) {
	if err := CheckSegments(msg); err != nil {
		return nil, err
	}
	orc, pv1, rxe, rxr, nte := &msg.ORC[0], &msg.PV1[0], &msg.RXE[0], &msg.RXR[0], &msg.NTE[0]

	// Map physician order
	prescription, err := mapPrescription(orc, pv1)
	if err != nil {
		return nil, err
	}
	prescription.PatientID = patientID

	// Map encoded order
	encoded, err := mapEncodedOrder(rxe, nte)
	if err != nil {
		return nil, err
	}

	// Map route
	route := pharmacy.Route{
		Route:                codedElement(rxr.Route),
		Site:                 rxr.Site,
		AdministrationDevice: rxr.AdministrationDevice,
		AdministrationMethod: codedElement(rxr.AdministrationMethod),
	}

	// Map components
	components := make([]pharmacy.Component, 0, len(msg.RXC))
	for i := range msg.RXC {
		c, err := mapComponent(&msg.RXC[i])
		if err != nil {
			return nil, err
		}
		components = append(components, c)
	}

	return &pharmacy.OrderSubmission{
		Prescription: *prescription,
		EncodedOrder: *encoded,
		Route:        route,
		Components:   components,
	}, nil
}

func mapPrescription(orc *er7.ORC, pv1 *er7.PV1) (*pharmacy.PrescriptionOrder, error) {
	qt, err := quantityTiming(orc.QuantityTiming, "ORC-7")
	if err != nil {
		return nil, err
	}
	visit, err := optionalInt("PV1-19", pv1.VisitNumber)
	if err != nil {
		return nil, err
	}
	filler, err := optionalInt("ORC-3", orc.FillerOrderNumber)
	if err != nil {
		return nil, err
	}

	status := orc.OrderStatus
	if status == "" {
		status = pharmacy.DefaultOrderStatus
	}

	return &pharmacy.PrescriptionOrder{
		QuantityTiming:    qt,
		VisitNumber:       visit,
		TriggerEvent:      orc.OrderControl,
		FillerOrderNumber: filler,
		OrderStatus:       status,
		EnteredAt:         orc.EnteredAt,
		EnteredBy:         who(orc.EnteredBy),
		VerifiedBy:        who(orc.VerifiedBy),
		OrderedBy:         who(orc.OrderedBy),
		EffectiveAt:       orc.EffectiveAt,
	}, nil
}

func mapEncodedOrder(rxe *er7.RXE, nte *er7.NTE) (*pharmacy.EncodedOrder, error) {
	qt, err := quantityTiming(rxe.QuantityTiming, "RXE-1")
	if err != nil {
		return nil, err
	}
	giveMin, err := optionalDecimal("RXE-3", rxe.GiveAmountMinimum)
	if err != nil {
		return nil, err
	}
	giveMax, err := optionalDecimal("RXE-4", rxe.GiveAmountMaximum)
	if err != nil {
		return nil, err
	}
	dispense, err := optionalDecimal("RXE-10", rxe.DispenseAmount)
	if err != nil {
		return nil, err
	}
	refills, err := optionalDecimal("RXE-12", rxe.Refills)
	if err != nil {
		return nil, err
	}

	e := &pharmacy.EncodedOrder{
		QuantityTiming:                    qt,
		GiveCode:                          codedElement(rxe.GiveCode),
		GiveAmountMinimum:                 giveMin,
		GiveAmountMaximum:                 giveMax,
		GiveUnits:                         rxe.GiveUnits,
		GiveDosageForm:                    codedElement(rxe.GiveDosageForm),
		ProviderAdministrationInstruction: rxe.ProviderAdministrationInstruction,
		DispenseAmount:                    dispense,
		DispenseUnits:                     rxe.DispenseUnits,
		FormularyStatus:                   pharmacy.FormularyStatus(nte.Comment),
	}
	if refills != nil {
		e.Refills = int(refills.IntPart())
	}
	return e, nil
}

func mapComponent(rxc *er7.RXC) (pharmacy.Component, error) {
	amount, err := optionalDecimal("RXC-3", rxc.Amount)
	if err != nil {
		return pharmacy.Component{}, err
	}
	return pharmacy.Component{
		ComponentType: pharmacy.ComponentType(rxc.ComponentType),
		ComponentCode: codedElement(rxc.Component),
		Amount:        amount,
		Units:         rxc.Units,
	}, nil
}

func quantityTiming(qt er7.QuantityTiming, field string) (pharmacy.QuantityTiming, error) {
	quantity, err := optionalDecimal(field+".1", qt.Quantity)
	if err != nil {
		return pharmacy.QuantityTiming{}, err
	}
	out := pharmacy.QuantityTiming{
		Quantity:         quantity,
		Unit:             qt.Unit,
		IntervalPattern:  qt.IntervalPattern,
		IntervalDuration: qt.IntervalDuration,
		Duration:         qt.Duration,
		ServiceStart:     qt.ServiceStart,
		ServiceEnd:       qt.ServiceEnd,
		Priority:         qt.Priority,
	}
	if out.Duration == "" {
		out.Duration = pharmacy.DefaultDuration
	}
	if out.Priority == "" {
		out.Priority = pharmacy.DefaultPriority
	}
	return out, nil
}

// codedElement returns nil when the primary triple is empty, whatever the
// alternate components hold.
func codedElement(ce er7.CodedElement) *pharmacy.CodedElement {
	if ce.IsBlank() {
		return nil
	}
	return &pharmacy.CodedElement{
		Identifier:            ce.Identifier,
		Text:                  ce.Text,
		CodingSystem:          ce.CodingSystem,
		AlternateIdentifier:   ce.AlternateIdentifier,
		AlternateText:         ce.AlternateText,
		AlternateCodingSystem: ce.AlternateCodingSystem,
	}
}

// who renders an XCN as "given family id"
func who(p er7.Person) string {
	return strings.TrimSpace(p.GivenName + " " + p.FamilyName + " " + p.ID)
}

func optionalDecimal(field, value string) (*decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, invalidField(field, value, err)
	}
	return &d, nil
}

func optionalInt(field, value string) (*int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, invalidField(field, value, err)
	}
	return &n, nil
}
