package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRecordIngestion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.MessageReceived("http")
	m.OrderIngested(20 * time.Millisecond)
	m.OrderRejected("persistence")
	m.OrderRejected("persistence")
	m.CodedElementResolved("created")
	m.CodedElementResolved("reused")
	m.CodedElementResolved("reused")
	m.BreakerState("kafka", "open")
	m.SitesKnown(4)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`hl7_messages_received_total{source="http"} 1`,
		"pharmacy_orders_ingested_total 1",
		`pharmacy_orders_rejected_total{category="persistence"} 2`,
		`coded_element_resolutions_total{outcome="created"} 1`,
		`coded_element_resolutions_total{outcome="reused"} 2`,
		`circuit_breaker_state{name="kafka"} 1`,
		"hospital_sites_known 4",
		"pharmacy_order_ingest_duration_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
