package mapper

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7/er7test"
)

var montreal = time.FixedZone("EST", -5*60*60)

func decode(t *testing.T, raw string) *er7.ParsedMessage {
	t.Helper()
	cfg := er7.DefaultConfig()
	cfg.Location = montreal
	msg, err := er7.NewDecoder(cfg, nil).Decode([]byte(raw), nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return msg
}

func TestMapPharmacyMessage(t *testing.T) {
	patientID := uuid.New()
	sub, err := New().Map(decode(t, er7test.PharmacyMessage()), patientID)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	p := sub.Prescription
	if p.PatientID != patientID {
		t.Errorf("patient id = %s", p.PatientID)
	}
	if p.TriggerEvent != "XX" || p.OrderStatus != "SC" {
		t.Errorf("trigger event %q order status %q", p.TriggerEvent, p.OrderStatus)
	}
	if p.FillerOrderNumber == nil || *p.FillerOrderNumber != 25008915 {
		t.Errorf("filler order number = %v", p.FillerOrderNumber)
	}
	if p.VisitNumber == nil || *p.VisitNumber != 2050173412 {
		t.Errorf("visit number = %v", p.VisitNumber)
	}
	if p.EnteredBy != "Marc-Alexandre Duceppe MDUCEPPE" {
		t.Errorf("entered by = %q", p.EnteredBy)
	}
	if p.OrderedBy != "Dr. Emergency 100000" {
		t.Errorf("ordered by = %q", p.OrderedBy)
	}
	if p.Quantity == nil || p.Quantity.String() != "0.17" {
		t.Errorf("quantity = %v", p.Quantity)
	}
	if p.IntervalPattern != "Q24" || p.IntervalDuration != "1000" || p.Duration != "INDEF" || p.Priority != "R" {
		t.Errorf("unexpected quantity timing %+v", p.QuantityTiming)
	}
	wantStart := time.Date(2023, 12, 6, 10, 0, 0, 0, montreal)
	if p.ServiceStart == nil || !p.ServiceStart.Equal(wantStart) {
		t.Errorf("service start = %v, want %v", p.ServiceStart, wantStart)
	}
	wantEntered := time.Date(2023, 12, 6, 13, 16, 10, 0, montreal)
	if p.EnteredAt == nil || !p.EnteredAt.Equal(wantEntered) {
		t.Errorf("entered at = %v, want %v", p.EnteredAt, wantEntered)
	}

	e := sub.EncodedOrder
	if e.GiveCode == nil || e.GiveCode.Identifier != "ENOXAREDES100I3" || e.GiveCode.CodingSystem != "RXTFC" {
		t.Fatalf("give code = %+v", e.GiveCode)
	}
	if e.GiveCode.AlternateIdentifier != "20:12.04" || e.GiveCode.AlternateCodingSystem != "AHFS" {
		t.Errorf("alternates not carried: %+v", e.GiveCode)
	}
	if e.GiveAmountMinimum == nil || !e.GiveAmountMinimum.Equal(decimalOf(t, "50")) {
		t.Errorf("give amount minimum = %v", e.GiveAmountMinimum)
	}
	if e.GiveAmountMaximum != nil {
		t.Errorf("give amount maximum = %v, want nil", e.GiveAmountMaximum)
	}
	if e.GiveDosageForm == nil || e.GiveDosageForm.Identifier != "INJVIAL" {
		t.Errorf("dosage form = %+v", e.GiveDosageForm)
	}
	if strings.Count(e.ProviderAdministrationInstruction, "\n") != 2 {
		t.Errorf("instruction = %q", e.ProviderAdministrationInstruction)
	}
	if e.Refills != 0 || e.FormularyStatus != pharmacy.FormularyStandard {
		t.Errorf("refills %d formulary %q", e.Refills, e.FormularyStatus)
	}

	r := sub.Route
	if r.Route == nil || r.Route.Identifier != "SCMED" {
		t.Errorf("route = %+v", r.Route)
	}
	if r.AdministrationMethod == nil || r.AdministrationMethod.Identifier != "IJ" {
		t.Errorf("administration method = %+v", r.AdministrationMethod)
	}

	if len(sub.Components) != len(er7test.RXC) {
		t.Fatalf("components = %d, want %d", len(sub.Components), len(er7test.RXC))
	}
	first := sub.Components[0]
	if first.ComponentType != pharmacy.ComponentAdditive || first.Units != "MG" || !first.Amount.Equal(decimalOf(t, "50")) {
		t.Errorf("first component = %+v", first)
	}
}

func TestMapBlankCodedElementIsAbsent(t *testing.T) {
	sub, err := New().Map(decode(t, er7test.PharmacyMessage()), uuid.New())
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	last := sub.Components[len(sub.Components)-1]
	if last.ComponentType != pharmacy.ComponentText {
		t.Fatalf("last component type = %q", last.ComponentType)
	}
	if last.ComponentCode != nil {
		t.Errorf("blank component code should be nil, got %+v", last.ComponentCode)
	}

	raw := er7test.Replace(er7test.RXR, `RXR|^^^ALT^Alternate^AHFS|||^^`)
	sub, err = New().Map(decode(t, raw), uuid.New())
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if sub.Route.Route != nil || sub.Route.AdministrationMethod != nil {
		t.Errorf("blank route codes should be nil: %+v", sub.Route)
	}
}

func TestMissingSegmentOrder(t *testing.T) {
	without := func(types ...string) string {
		raw := er7test.PharmacyMessage()
		for _, typ := range types {
			var kept []string
			for _, line := range strings.Split(raw, "\r") {
				if !strings.HasPrefix(line, typ+"|") {
					kept = append(kept, line)
				}
			}
			raw = er7test.Join(kept...)
		}
		return raw
	}

	tests := []struct {
		name    string
		removed []string
		want    er7.SegmentType
	}{
		{"RXE only", []string{"RXE"}, er7.SegmentRXE},
		{"RXE and later", []string{"RXE", "RXR", "NTE", "RXC"}, er7.SegmentRXE},
		{"RXC last", []string{"RXC"}, er7.SegmentRXC},
		{"ORC first", []string{"RXE", "ORC"}, er7.SegmentORC},
		{"PV1 before RXE", []string{"RXE", "PV1"}, er7.SegmentPV1},
		{"NTE before RXC", []string{"RXC", "NTE"}, er7.SegmentNTE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Map(decode(t, without(tt.removed...)), uuid.New())
			var me *MappingError
			if !errors.As(err, &me) {
				t.Fatalf("expected MappingError, got %v", err)
			}
			if me.Kind != KindMissingSegment || me.Segment != tt.want {
				t.Errorf("got %s %s, want missing %s", me.Kind, me.Segment, tt.want)
			}
		})
	}
}

func TestDuplicateSegment(t *testing.T) {
	segs := append(er7test.PharmacySegments(), er7test.RXR)
	_, err := New().Map(decode(t, er7test.Join(segs...)), uuid.New())
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("expected MappingError, got %v", err)
	}
	if me.Kind != KindDuplicateSegment || me.Segment != er7.SegmentRXR {
		t.Errorf("got %s %s", me.Kind, me.Segment)
	}
}

func TestInvalidField(t *testing.T) {
	raw := er7test.Replace(er7test.RXC[2], `RXC|B|D5W^DEXTROSE 5% IN WATER^RXTFC|two fifty|ML`)
	_, err := New().Map(decode(t, raw), uuid.New())
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("expected MappingError, got %v", err)
	}
	if me.Kind != KindInvalidField || me.Field != "RXC-3" || me.Segment != er7.SegmentRXC {
		t.Errorf("got %+v", me)
	}
	if !strings.Contains(me.Error(), "two fifty") {
		t.Errorf("error should name the value: %v", me)
	}
}

func TestDefaults(t *testing.T) {
	orc := `ORC|NW||25008915||||0.17^Q24&1000^^202312061000^202412051859^||20231206131610||||||20231206100000`
	sub, err := New().Map(decode(t, er7test.Replace(er7test.ORC, orc)), uuid.New())
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	p := sub.Prescription
	if p.OrderStatus != pharmacy.DefaultOrderStatus || p.Duration != pharmacy.DefaultDuration || p.Priority != pharmacy.DefaultPriority {
		t.Errorf("defaults not applied: status %q duration %q priority %q", p.OrderStatus, p.Duration, p.Priority)
	}
	if p.EnteredBy != "" || p.VerifiedBy != "" {
		t.Errorf("empty persons should map to empty strings: %q %q", p.EnteredBy, p.VerifiedBy)
	}
}

func TestMapIsDeterministic(t *testing.T) {
	msg := decode(t, er7test.PharmacyMessage())
	patientID := uuid.New()
	a, err := New().Map(msg, patientID)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New().Map(msg, patientID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("mapping the same message twice gave different trees")
	}
}

func TestWho(t *testing.T) {
	tests := []struct {
		in   er7.Person
		want string
	}{
		{er7.Person{ID: "MD1", FamilyName: "House", GivenName: "Greg"}, "Greg House MD1"},
		{er7.Person{ID: "MD1"}, "MD1"},
		{er7.Person{GivenName: "Greg"}, "Greg"},
		{er7.Person{}, ""},
	}
	for _, tt := range tests {
		if got := who(tt.in); got != tt.want {
			t.Errorf("who(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func decimalOf(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
