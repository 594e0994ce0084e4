package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]*InboxEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*InboxEntry)}
}

func (m *memStore) Get(ctx context.Context, key string) (*InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) Start(ctx context.Context, key, handlerName string, payload json.RawMessage, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		if e.Status != StatusRecoverable {
			return ErrDuplicateMessage
		}
		e.Status = StatusStarted
		e.UpdatedAt = time.Now()
		return nil
	}
	m.entries[key] = &InboxEntry{
		IdempotencyKey: key,
		HandlerName:    handlerName,
		Status:         StatusStarted,
		Payload:        payload,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		ExpiresAt:      &expiresAt,
	}
	return nil
}

func (m *memStore) SetStatus(ctx context.Context, key string, status Status, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	if result != nil {
		e.Result = result
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) Cleanup(ctx context.Context, finishedRetention time.Duration) (int64, error) {
	return 0, nil
}

func (m *memStore) status(key string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key].Status
}

func TestProcessRunsHandlerOnce(t *testing.T) {
	store := newMemStore()
	inbox := NewInbox(store, DefaultInboxConfig(), nil)

	calls := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"id":"abc"}`), nil
	}

	first, err := inbox.Process(context.Background(), "k1", "pharmacy", nil, fn)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if !first.IsNew {
		t.Error("first delivery should be new")
	}

	second, err := inbox.Process(context.Background(), "k1", "pharmacy", nil, fn)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.IsNew {
		t.Error("redelivery reported as new")
	}
	if string(second.Result) != `{"id":"abc"}` {
		t.Errorf("cached result = %s", second.Result)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times", calls)
	}
}

func TestProcessRetriesRecoverableErrors(t *testing.T) {
	store := newMemStore()
	inbox := NewInbox(store, DefaultInboxConfig(), nil)

	attempts := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return json.RawMessage(`{}`), nil
	}

	if _, err := inbox.Process(context.Background(), "k", "h", nil, fn); err == nil {
		t.Fatal("expected handler error")
	}
	if got := store.status("k"); got != StatusRecoverable {
		t.Fatalf("status = %s, want RECOVERABLE", got)
	}

	res, err := inbox.Process(context.Background(), "k", "h", nil, fn)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.WasRecovered {
		t.Error("expected WasRecovered")
	}
	if got := store.status("k"); got != StatusFinished {
		t.Errorf("status = %s", got)
	}
}

func TestProcessTerminalErrorsAreNotRetried(t *testing.T) {
	errRejected := errors.New("rejected")
	cfg := DefaultInboxConfig()
	cfg.IsTerminal = func(err error) bool { return errors.Is(err, errRejected) }

	store := newMemStore()
	inbox := NewInbox(store, cfg, nil)

	calls := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return nil, errRejected
	}

	if _, err := inbox.Process(context.Background(), "k", "h", nil, fn); !errors.Is(err, errRejected) {
		t.Fatalf("err = %v", err)
	}
	if got := store.status("k"); got != StatusFailed {
		t.Fatalf("status = %s, want FAILED", got)
	}
	if _, err := inbox.Process(context.Background(), "k", "h", nil, fn); !errors.Is(err, ErrPreviouslyFailed) {
		t.Errorf("err = %v, want ErrPreviouslyFailed", err)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times", calls)
	}
}

func TestProcessInProgressAndStaleRecovery(t *testing.T) {
	store := newMemStore()
	inbox := NewInbox(store, DefaultInboxConfig(), nil)

	store.entries["k"] = &InboxEntry{IdempotencyKey: "k", Status: StatusStarted, UpdatedAt: time.Now()}

	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}
	if _, err := inbox.Process(context.Background(), "k", "h", nil, fn); !errors.Is(err, ErrMessageInProgress) {
		t.Fatalf("err = %v, want ErrMessageInProgress", err)
	}

	inbox.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err := inbox.Process(context.Background(), "k", "h", nil, fn)
	if err != nil {
		t.Fatalf("stale entry: %v", err)
	}
	if !res.WasRecovered {
		t.Error("expected stale entry to be recovered")
	}
}

func TestGenerateKey(t *testing.T) {
	a := GenerateKey("OACIS", "RVH", "MSG00001")
	if a != GenerateKey("OACIS", "RVH", "MSG00001") {
		t.Error("key is not deterministic")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d", len(a))
	}
	if a == GenerateKey("OACIS", "RVH", "MSG00002") {
		t.Error("different control ids share a key")
	}
	if GenerateKey("a", "") == GenerateKey("", "a") {
		t.Error("part positions are not significant")
	}
	if RecordKey("hl7.inbound", 0, 10) == RecordKey("hl7.inbound", 1, 10) {
		t.Error("partitions share a key")
	}
}

func TestDefaultIsTerminal(t *testing.T) {
	if !DefaultIsTerminal(errors.New("Validation failed")) {
		t.Error("validation should be terminal")
	}
	if DefaultIsTerminal(errors.New("i/o timeout")) {
		t.Error("timeout should be retried")
	}
}
