package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/drfirst/go-rxhl7/internal/domain/pharmacy"
	"github.com/drfirst/go-rxhl7/internal/fhir/r5"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7/er7test"
	"github.com/drfirst/go-rxhl7/internal/infrastructure/memstore"
	"github.com/drfirst/go-rxhl7/internal/ingest"
)

func newRouter(t *testing.T, maxBody int64) (http.Handler, *memstore.Store) {
	t.Helper()
	patients := memstore.NewPatients()
	patients.Add("SIMM86600199", er7.SiteMRN{MRN: "9999996", Site: "RVH"})
	store := memstore.New(patients)

	cfg := er7.DefaultConfig()
	cfg.Location = time.FixedZone("EST", -5*60*60)
	cfg.Sites = er7.NewSiteSet("RVH", "MGH")
	pipeline := ingest.New(er7.NewDecoder(cfg, nil), patients, pharmacy.NewRepository(store, nil), nil, nil)

	h := NewPharmacyHandler(pipeline, maxBody, nil)
	r := chi.NewRouter()
	r.Mount("/pharmacy/orders", h.OrderRoutes())
	r.Mount("/patients", h.PatientRoutes())
	return r, store
}

func post(t *testing.T, h http.Handler, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestCreateOrder(t *testing.T) {
	h, store := newRouter(t, 0)

	rec := post(t, h, "/pharmacy/orders", er7.MediaType, er7test.PharmacyMessage())
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var body CreateOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	id, err := uuid.Parse(body.ID)
	if err != nil {
		t.Fatalf("id %q: %v", body.ID, err)
	}
	if _, ok := store.PrescriptionOrder(id); !ok {
		t.Error("returned id not stored")
	}
}

func TestCreateOrderAcceptsCharsetParameter(t *testing.T) {
	h, _ := newRouter(t, 0)
	rec := post(t, h, "/pharmacy/orders", er7.MediaType+"; charset=utf-8", er7test.PharmacyMessage())
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
		category    string
	}{
		{"json body", "application/json", `{}`, http.StatusUnsupportedMediaType, "media_type"},
		{"no content type", "", er7test.PharmacyMessage(), http.StatusUnsupportedMediaType, "media_type"},
		{"not text", er7.MediaType, "\xff\xfe\xfd", http.StatusBadRequest, ingest.CategoryDecode},
		{"no segments", er7.MediaType, "hello world", http.StatusBadRequest, ingest.CategoryDecode},
		{"missing RXR", er7.MediaType, er7test.Without("RXR"), http.StatusBadRequest, ingest.CategoryMapping},
		{"unknown patient", er7.MediaType, er7test.Replace(er7test.PID, `PID|1|XXXX00000000^^^RAMQ|0000000^^^RVH^MR||DOE^JANE||19700101|F`), http.StatusNotFound, ingest.CategoryPatient},
		{"rejected", er7.MediaType, er7test.Replace(er7test.NTE, "NTE|2|L|XYZ"), http.StatusUnprocessableEntity, ingest.CategoryPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newRouter(t, 0)
			rec := post(t, h, "/pharmacy/orders", tt.contentType, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			body := decodeError(t, rec)
			if body.Category != tt.category || body.Error == "" {
				t.Errorf("body = %+v", body)
			}
			if n := store.Counts().PrescriptionOrders; n != 0 {
				t.Errorf("orders = %d", n)
			}
		})
	}
}

func TestCreateOrderTooLarge(t *testing.T) {
	h, _ := newRouter(t, 64)
	rec := post(t, h, "/pharmacy/orders", er7.MediaType, er7test.PharmacyMessage())
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", rec.Code)
	}
}

type brokenIngester struct{}

func (brokenIngester) Ingest(context.Context, []byte, string) (*ingest.Result, error) {
	return nil, errors.New("pq: connection reset by peer")
}

func (brokenIngester) Demographics(context.Context, []byte) (*er7.PID, *r5.Patient, error) {
	return nil, nil, errors.New("unreachable")
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	h := NewPharmacyHandler(brokenIngester{}, 0, nil)
	rec := post(t, h.OrderRoutes(), "/", er7.MediaType, er7test.PharmacyMessage())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Error != "internal error" || body.Category != ingest.CategoryInternal {
		t.Errorf("body = %+v", body)
	}
}

func TestLookupPatient(t *testing.T) {
	h, store := newRouter(t, 0)

	rec := post(t, h, "/patients/lookup", er7.MediaType, er7test.PharmacyMessage())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var body PatientLookupResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.RAMQ != "SIMM86600199" {
		t.Errorf("ramq = %q", body.RAMQ)
	}
	// only RVH and MGH are configured sites
	if len(body.MRNSites) != 2 {
		t.Errorf("mrn sites = %+v", body.MRNSites)
	}
	if body.Patient == nil || body.Patient.GetFullName() != "MARGE SIMPSON" {
		t.Errorf("patient = %+v", body.Patient)
	}
	if store.Counts().PrescriptionOrders != 0 {
		t.Error("lookup wrote an order")
	}

	rec = post(t, h, "/patients/lookup", er7.MediaType, er7test.Without("PID"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status without PID = %d", rec.Code)
	}
}
