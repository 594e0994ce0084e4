package redpanda

import (
	"context"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "source", Value: []byte("oacis")}}}
	InjectTraceContext(ctx, record)

	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got := (recordCarrier{record: record}).Get("traceparent"); got != want {
		t.Fatalf("traceparent = %q", got)
	}
	if len(record.Headers) != 2 {
		t.Errorf("headers = %+v", record.Headers)
	}

	// injecting again replaces rather than duplicates
	InjectTraceContext(ctx, record)
	if len(record.Headers) != 2 {
		t.Errorf("headers after reinject = %+v", record.Headers)
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), record))
	if got.TraceID() != traceID || got.SpanID() != spanID || !got.IsRemote() {
		t.Errorf("extracted = %+v", got)
	}
}

func TestExtractWithoutHeaders(t *testing.T) {
	ctx := ExtractTraceContext(context.Background(), &kgo.Record{})
	if trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("span context from empty record")
	}
}

func TestTopicConfigs(t *testing.T) {
	topics := DefaultTopics()
	topics.ReplicationFactor = 3

	configs := topics.Configs()
	if len(configs) != 3 {
		t.Fatalf("configs = %d", len(configs))
	}

	byName := make(map[string]TopicConfig)
	for _, c := range configs {
		byName[c.Name] = c
	}
	orders, ok := byName[TopicPharmacyOrders]
	if !ok || orders.Partitions != 12 || orders.ReplicationFactor != 3 {
		t.Errorf("orders = %+v", orders)
	}
	if v := *orders.Configs["min.insync.replicas"]; v != "2" {
		t.Errorf("min.insync.replicas = %s", v)
	}
	dlq := byName[TopicPharmacyOrdersDLQ]
	if dlq.Partitions != 3 || *dlq.Configs["retention.ms"] != "2592000000" {
		t.Errorf("dlq = %+v", dlq)
	}
}

func TestTopicConfigsSkipEmptyNames(t *testing.T) {
	configs := Topics{Orders: "orders"}.Configs()
	if len(configs) != 1 || configs[0].ReplicationFactor != 1 {
		t.Errorf("configs = %+v", configs)
	}
	if *configs[0].Configs["min.insync.replicas"] != "1" {
		t.Error("single replica topics need min.insync.replicas=1")
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		in, limit, want time.Duration
	}{
		{100 * time.Millisecond, time.Second, 200 * time.Millisecond},
		{800 * time.Millisecond, time.Second, time.Second},
		{0, 0, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.in, tt.limit); got != tt.want {
			t.Errorf("nextBackoff(%s, %s) = %s, want %s", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestNewConsumerRequiresHandler(t *testing.T) {
	if _, err := NewConsumer(DefaultConsumerConfig(), nil, nil); err == nil {
		t.Error("expected error without handler")
	}
	cfg := DefaultConsumerConfig()
	cfg.Topics = nil
	noop := func(context.Context, *ConsumedMessage) error { return nil }
	if _, err := NewConsumer(cfg, noop, nil); err == nil {
		t.Error("expected error without topics")
	}
}
