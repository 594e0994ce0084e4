package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drfirst/go-rxhl7/internal/hl7/er7"
	"github.com/drfirst/go-rxhl7/internal/hl7/er7/er7test"
	"github.com/drfirst/go-rxhl7/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxhl7/pkg/idempotency"
	"github.com/drfirst/go-rxhl7/pkg/workerpool"
)

// inboxStore keeps inbox entries in a map
type inboxStore struct {
	mu      sync.Mutex
	entries map[string]*idempotency.InboxEntry
}

func newInboxStore() *inboxStore {
	return &inboxStore{entries: make(map[string]*idempotency.InboxEntry)}
}

func (s *inboxStore) Get(_ context.Context, key string) (*idempotency.InboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, idempotency.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *inboxStore) Start(_ context.Context, key, handler string, payload json.RawMessage, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.Status != idempotency.StatusRecoverable {
		return idempotency.ErrDuplicateMessage
	}
	now := time.Now()
	s.entries[key] = &idempotency.InboxEntry{
		IdempotencyKey: key, HandlerName: handler, Status: idempotency.StatusStarted,
		Payload: payload, CreatedAt: now, UpdatedAt: now,
	}
	return nil
}

func (s *inboxStore) SetStatus(_ context.Context, key string, status idempotency.Status, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return idempotency.ErrNotFound
	}
	e.Status = status
	if result != nil {
		e.Result = result
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (s *inboxStore) Cleanup(context.Context, time.Duration) (int64, error) { return 0, nil }

func (s *inboxStore) status(key string) idempotency.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.Status
	}
	return ""
}

type streamFixture struct {
	*fixture
	handler *StreamHandler
	inbox   *inboxStore
}

func newStreamFixture(t *testing.T, register bool) *streamFixture {
	t.Helper()
	f := newFixture(t, register)

	cfg := workerpool.DefaultConfig()
	cfg.Workers = 2
	cfg.RetryDelay = time.Millisecond
	cfg.Retryable = Retryable
	pool, err := workerpool.New(cfg, f.pipeline.Work, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	t.Cleanup(func() { pool.Stop() })

	store := newInboxStore()
	inboxCfg := idempotency.DefaultInboxConfig()
	inboxCfg.IsTerminal = IsTerminal
	inbox := idempotency.NewInbox(store, inboxCfg, nil)

	return &streamFixture{fixture: f, handler: NewStreamHandler(inbox, pool, nil), inbox: store}
}

func record(offset int64, value string) *redpanda.ConsumedMessage {
	return &redpanda.ConsumedMessage{Topic: "hl7.inbound", Partition: 3, Offset: offset, Value: []byte(value)}
}

func TestStreamHandlerIngestsOnce(t *testing.T) {
	f := newStreamFixture(t, true)
	msg := record(42, er7test.PharmacyMessage())

	for i := 0; i < 3; i++ {
		if err := f.handler.Handle(context.Background(), msg); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if n := f.store.Counts().PrescriptionOrders; n != 1 {
		t.Errorf("orders = %d, want 1", n)
	}
	key := idempotency.RecordKey("hl7.inbound", 3, 42)
	if got := f.inbox.status(key); got != idempotency.StatusFinished {
		t.Errorf("inbox status = %s", got)
	}

	// the same message at another offset is a new order
	if err := f.handler.Handle(context.Background(), record(43, er7test.PharmacyMessage())); err != nil {
		t.Fatal(err)
	}
	if n := f.store.Counts().PrescriptionOrders; n != 2 {
		t.Errorf("orders = %d, want 2", n)
	}
}

func TestStreamHandlerSettlesRejectedRecords(t *testing.T) {
	f := newStreamFixture(t, false)
	msg := record(7, er7test.PharmacyMessage())

	// unknown patient is terminal: settled, not retried
	if err := f.handler.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle = %v", err)
	}
	key := idempotency.RecordKey("hl7.inbound", 3, 7)
	if got := f.inbox.status(key); got != idempotency.StatusFailed {
		t.Errorf("inbox status = %s", got)
	}
	if err := f.handler.Handle(context.Background(), msg); err != nil {
		t.Errorf("redelivery = %v", err)
	}
	if f.recorder.rejected[CategoryPatient] != 1 {
		t.Errorf("pipeline ran again on redelivery: %v", f.recorder.rejected)
	}
}

type flakySubmitter struct {
	fails int
	next  Submitter
}

func (s *flakySubmitter) SubmitWait(ctx context.Context, task *workerpool.Task) (*workerpool.Result, error) {
	if s.fails > 0 {
		s.fails--
		return nil, workerpool.ErrQueueFull
	}
	return s.next.SubmitWait(ctx, task)
}

func TestStreamHandlerRetriesInfrastructureErrors(t *testing.T) {
	f := newStreamFixture(t, true)
	f.handler.pool = &flakySubmitter{fails: 1, next: f.handler.pool}
	msg := record(9, er7test.PharmacyMessage())

	err := f.handler.Handle(context.Background(), msg)
	if !errors.Is(err, workerpool.ErrQueueFull) {
		t.Fatalf("Handle = %v, want ErrQueueFull", err)
	}
	key := idempotency.RecordKey("hl7.inbound", 3, 9)
	if got := f.inbox.status(key); got != idempotency.StatusRecoverable {
		t.Errorf("inbox status = %s", got)
	}

	if err := f.handler.Handle(context.Background(), msg); err != nil {
		t.Fatalf("redelivery = %v", err)
	}
	if n := f.store.Counts().PrescriptionOrders; n != 1 {
		t.Errorf("orders = %d", n)
	}
}

func TestWorkPayloadTypes(t *testing.T) {
	f := newFixture(t, true)

	res := f.pipeline.Work(context.Background(), &workerpool.Task{ID: "t1", Payload: er7test.PharmacyMessage()})
	if !res.Success {
		t.Fatalf("string payload: %v", res.Error)
	}

	res = f.pipeline.Work(context.Background(), &workerpool.Task{ID: "t2", Payload: 42})
	var decErr *er7.DecodeError
	if res.Success || !errors.As(res.Error, &decErr) || decErr.Kind != er7.KindUnsupportedInput {
		t.Fatalf("result = %+v, want unsupported input", res)
	}
	if Category(res.Error) != CategoryDecode || !IsTerminal(res.Error) {
		t.Errorf("category = %s, terminal = %v", Category(res.Error), IsTerminal(res.Error))
	}
}
