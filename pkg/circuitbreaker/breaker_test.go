package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("kafka")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	cb, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("broker unavailable")
	for i := 0; i < 2; i++ {
		if err := cb.Call(context.Background(), func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if !cb.IsOpen() {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	called := false
	err = cb.Call(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("open breaker ran the call")
	}

	h := cb.Health()
	if h.Healthy || h.State != StateOpen || h.Name != "kafka" {
		t.Errorf("health = %+v", h)
	}
}

func TestCanceledCallsDoNotTrip(t *testing.T) {
	cfg := DefaultConfig("redis")
	cfg.FailureThreshold = 1
	cb, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		_ = cb.Call(context.Background(), func(ctx context.Context) error { return context.Canceled })
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s", cb.GetState())
	}
	if err := cb.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("err = %v", err)
	}
}
