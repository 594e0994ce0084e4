package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "DATABASE_URL", "KAFKA_BROKERS", "HL7_TIME_ZONE", "HL7_SITES", "API_KEYS"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Kafka.InboundTopic != "hl7.inbound" || cfg.Kafka.OrdersTopic != "pharmacy.orders" {
		t.Errorf("topics = %+v", cfg.Kafka)
	}
	if cfg.HL7.LineBreakToken != `\E\.br\E\` {
		t.Errorf("line break token = %q", cfg.HL7.LineBreakToken)
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_DB_PASSWORD", "s3cret")
	path := writeFile(t, `
server:
  port: 9090
database:
  url: postgres://rx:${TEST_DB_PASSWORD}@db:5432/rx
hl7:
  time_zone: UTC
  sites: [RVH, MGH]
  site_refresh: 30s
outbox:
  poll_interval: 1s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://rx:s3cret@db:5432/rx" {
		t.Errorf("url = %q", cfg.Database.URL)
	}
	if len(cfg.HL7.Sites) != 2 || cfg.HL7.Sites[1] != "MGH" {
		t.Errorf("sites = %v", cfg.HL7.Sites)
	}
	if cfg.HL7.SiteRefresh != 30*time.Second || cfg.Outbox.PollInterval != time.Second {
		t.Errorf("durations = %s %s", cfg.HL7.SiteRefresh, cfg.Outbox.PollInterval)
	}
	// untouched sections keep defaults
	if cfg.Outbox.BatchSize != 100 || cfg.Workers.Count != 16 {
		t.Errorf("defaults lost: %+v %+v", cfg.Outbox, cfg.Workers)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("location = %v, %v", loc, err)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "server:\n  port: 9090\n")
	t.Setenv("PORT", "7070")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("API_KEYS", "abc:oacis,def:pharmacy")
	t.Setenv("HL7_SITES", "RVH,MGH,MCH")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Server.APIKeys["def"] != "pharmacy" {
		t.Errorf("api keys = %v", cfg.Server.APIKeys)
	}
	if len(cfg.HL7.Sites) != 3 {
		t.Errorf("sites = %v", cfg.HL7.Sites)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad zone", "hl7:\n  time_zone: Mars/Olympus\n"},
		{"no topic", "kafka:\n  orders_topic: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeFile(t, tt.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error")
	}
}
