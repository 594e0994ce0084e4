package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7/er7test"
	"github.com/drfirst/go-rxhl7/internal/hl7/mapper"
	"github.com/drfirst/go-rxhl7/internal/infrastructure/memstore"
)

type recorder struct {
	mu       sync.Mutex
	received int
	ingested int
	rejected map[string]int
}

func (r *recorder) MessageReceived(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received++
}

func (r *recorder) OrderIngested(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested++
}

func (r *recorder) OrderRejected(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejected == nil {
		r.rejected = make(map[string]int)
	}
	r.rejected[category]++
}

type fixture struct {
	pipeline  *Pipeline
	store     *memstore.Store
	recorder  *recorder
	patientID uuid.UUID
}

func newFixture(t *testing.T, register bool) *fixture {
	t.Helper()
	patients := memstore.NewPatients()
	var id uuid.UUID
	if register {
		id = patients.Add("SIMM86600199", er7.SiteMRN{MRN: "9999996", Site: "RVH"})
	}
	store := memstore.New(patients)

	cfg := er7.DefaultConfig()
	cfg.Location = time.FixedZone("EST", -5*60*60)
	cfg.Sites = er7.NewSiteSet("RVH", "MGH", "MCH", "LAC")

	rec := &recorder{}
	p := New(er7.NewDecoder(cfg, nil), patients, pharmacy.NewRepository(store, nil), rec, nil)
	return &fixture{pipeline: p, store: store, recorder: rec, patientID: id}
}

func TestIngestCommitsOrder(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.pipeline.Ingest(context.Background(), []byte(er7test.PharmacyMessage()), SourceHTTP)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.PatientID != f.patientID {
		t.Errorf("patient = %s, want %s", res.PatientID, f.patientID)
	}
	if res.ControlID != "MSG00001" {
		t.Errorf("control id = %q", res.ControlID)
	}
	if _, ok := f.store.PrescriptionOrder(res.OrderID); !ok {
		t.Fatal("order not stored")
	}

	events := f.store.Events()
	if len(events) != 1 || events[0].CorrelationID != "MSG00001" {
		t.Errorf("events = %+v", events)
	}
	if f.recorder.received != 1 || f.recorder.ingested != 1 {
		t.Errorf("recorder = %+v", f.recorder)
	}
}

func TestIngestFailureCategories(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		register bool
		category string
	}{
		{"not text", "MSH|\xff\xfe", true, CategoryDecode},
		{"empty", "\r\n\r\n", true, CategoryDecode},
		{"no PID", er7test.Without("PID"), true, CategoryMapping},
		{"no RXE", er7test.Without("RXE"), true, CategoryMapping},
		{"unknown patient", er7test.PharmacyMessage(), false, CategoryPatient},
		{"bad formulary", er7test.Replace(er7test.NTE, "NTE|2|L|XYZ"), true, CategoryPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.register)
			_, err := f.pipeline.Ingest(context.Background(), []byte(tt.raw), SourceKafka)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Category(err); got != tt.category {
				t.Errorf("category = %q, want %q (%v)", got, tt.category, err)
			}
			if !IsTerminal(err) {
				t.Errorf("expected terminal error: %v", err)
			}
			if f.recorder.rejected[tt.category] != 1 {
				t.Errorf("rejections = %v", f.recorder.rejected)
			}
			if c := f.store.Counts(); c.PrescriptionOrders != 0 || c.CodedElements != 0 {
				t.Errorf("rows written: %+v", c)
			}
		})
	}
}

func TestIngestReportsFirstMissingSegment(t *testing.T) {
	tests := []struct {
		dropped []string
		want    er7.SegmentType
	}{
		{[]string{"PID"}, er7.SegmentPID},
		{[]string{"PID", "RXE"}, er7.SegmentRXE},
		{[]string{"RXC", "PID", "PV1"}, er7.SegmentPV1},
		{[]string{"NTE", "RXR"}, er7.SegmentRXR},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.dropped), func(t *testing.T) {
			f := newFixture(t, true)
			_, err := f.pipeline.Ingest(context.Background(), []byte(er7test.Without(tt.dropped...)), SourceHTTP)

			var me *mapper.MappingError
			if !errors.As(err, &me) || me.Kind != mapper.KindMissingSegment {
				t.Fatalf("err = %v, want missing segment", err)
			}
			if me.Segment != tt.want {
				t.Errorf("segment = %s, want %s", me.Segment, tt.want)
			}
		})
	}
}

func TestPatientNotFoundWrapsSentinels(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.pipeline.Ingest(context.Background(), []byte(er7test.PharmacyMessage()), SourceHTTP)
	if !errors.Is(err, ErrPatientNotFound) || !errors.Is(err, pharmacy.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

type failingResolver struct{}

func (failingResolver) ResolvePatient(context.Context, *er7.PID) (uuid.UUID, error) {
	return uuid.Nil, fmt.Errorf("dial tcp: connection refused")
}

func TestInfrastructureErrorsAreRetryable(t *testing.T) {
	store := memstore.New(memstore.NewPatients())
	p := New(er7.NewDecoder(er7.DefaultConfig(), nil), failingResolver{}, pharmacy.NewRepository(store, nil), nil, nil)

	_, err := p.Ingest(context.Background(), []byte(er7test.PharmacyMessage()), SourceKafka)
	if err == nil {
		t.Fatal("expected error")
	}
	if Category(err) != CategoryInternal || IsTerminal(err) {
		t.Errorf("category = %s terminal = %v", Category(err), IsTerminal(err))
	}
}

func TestIngestSameMessageTwiceReusesCodedElements(t *testing.T) {
	f := newFixture(t, true)
	raw := []byte(er7test.PharmacyMessage())
	for i := 0; i < 2; i++ {
		if _, err := f.pipeline.Ingest(context.Background(), raw, SourceHTTP); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	c := f.store.Counts()
	if c.CodedElements != er7test.DistinctCodedElements || c.PrescriptionOrders != 2 {
		t.Errorf("counts = %+v", c)
	}
}

func TestDemographics(t *testing.T) {
	f := newFixture(t, true)

	pid, patient, err := f.pipeline.Demographics(context.Background(), []byte(er7test.PharmacyMessage()))
	if err != nil {
		t.Fatalf("Demographics failed: %v", err)
	}
	// HNAM_PERSONID is not a hospital site
	if len(pid.MRNSites) != 4 {
		t.Errorf("mrn sites = %+v", pid.MRNSites)
	}
	if patient.GetMRN("RVH") != "9999996" {
		t.Errorf("RVH mrn = %q", patient.GetMRN("RVH"))
	}

	if _, _, err := f.pipeline.Demographics(context.Background(), []byte(er7test.Without("PID"))); Category(err) != CategoryMapping {
		t.Errorf("err = %v", err)
	}
}
