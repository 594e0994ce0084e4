package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	logger, err := New("ingestion-api", "debug")
	if err != nil {
		t.Fatal(err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug not enabled")
	}

	logger, err = New("ingestion-api", "")
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(zap.DebugLevel) || !logger.Core().Enabled(zap.InfoLevel) {
		t.Error("default level is not info")
	}

	if _, err := New("ingestion-api", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
