// Package metrics provides Prometheus metrics for HL7 order ingestion.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	MessagesReceived        *prometheus.CounterVec
	OrdersIngested          prometheus.Counter
	OrdersRejected          *prometheus.CounterVec
	IngestDuration          prometheus.Histogram
	CodedElementResolutions *prometheus.CounterVec
	KafkaMessagesProduced   prometheus.Counter
	KafkaMessagesConsumed   prometheus.Counter
	OutboxPending           prometheus.Gauge
	KnownSites              prometheus.Gauge
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates the metrics and registers them with reg.
// A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hl7_messages_received_total",
			Help: "HL7 messages received, by source",
		}, []string{"source"}),
		OrdersIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_orders_ingested_total",
			Help: "Pharmacy orders committed",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmacy_orders_rejected_total",
			Help: "Pharmacy orders rejected, by failure category",
		}, []string{"category"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmacy_order_ingest_duration_seconds",
			Help:    "Time from raw message to committed order",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		CodedElementResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coded_element_resolutions_total",
			Help: "Coded element lookups, by outcome (reused, created, conflict)",
		}, []string{"outcome"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		KnownSites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hospital_sites_known",
			Help: "Hospital sites in the site registry",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.MessagesReceived,
		m.OrdersIngested,
		m.OrdersRejected,
		m.IngestDuration,
		m.CodedElementResolutions,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.KnownSites,
		m.CircuitBreakerState,
	)

	return m
}

// CodedElementResolved counts one coded element lookup
func (m *Metrics) CodedElementResolved(outcome string) {
	m.CodedElementResolutions.WithLabelValues(outcome).Inc()
}

// MessageReceived counts one raw message from source
func (m *Metrics) MessageReceived(source string) {
	m.MessagesReceived.WithLabelValues(source).Inc()
}

// OrderIngested records a committed order and how long it took
func (m *Metrics) OrderIngested(elapsed time.Duration) {
	m.OrdersIngested.Inc()
	m.IngestDuration.Observe(elapsed.Seconds())
}

// OrderRejected counts a failed ingestion under category
func (m *Metrics) OrderRejected(category string) {
	m.OrdersRejected.WithLabelValues(category).Inc()
}

// MessageProduced counts one record acknowledged by the broker
func (m *Metrics) MessageProduced() {
	m.KafkaMessagesProduced.Inc()
}

// MessageConsumed counts one record handled from the broker
func (m *Metrics) MessageConsumed() {
	m.KafkaMessagesConsumed.Inc()
}

// PendingOutbox sets the number of unrelayed outbox entries
func (m *Metrics) PendingOutbox(n int64) {
	m.OutboxPending.Set(float64(n))
}

// SitesKnown sets the size of the site registry
func (m *Metrics) SitesKnown(n int) {
	m.KnownSites.Set(float64(n))
}

// BreakerState records a circuit breaker state by name
func (m *Metrics) BreakerState(name, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler for g.
// A nil g serves the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
