package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/drfirst/go-rxhl7/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxhl7/pkg/idempotency"
	"github.com/drfirst/go-rxhl7/pkg/workerpool"
)

// HandlerName identifies pipeline entries in the idempotency inbox
const HandlerName = "pharmacy-order"

// Inbox runs a handler at most once per key
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Submitter runs a task on a worker pool and waits for it
type Submitter interface {
	SubmitWait(ctx context.Context, task *workerpool.Task) (*workerpool.Result, error)
}

// Work is a workerpool.WorkerFunc that ingests a raw ER7 task payload
func (p *Pipeline) Work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	res, err := p.IngestPayload(ctx, task.Payload, SourceKafka)
	if err != nil {
		return &workerpool.Result{Error: err}
	}
	return &workerpool.Result{Success: true, Data: res}
}

// Retryable is a workerpool retry policy that gives up on terminal failures
func Retryable(r *workerpool.Result) bool {
	return !IsTerminal(r.Error)
}

// StreamHandler ingests records from the inbound HL7 topic. Each record is
// guarded by the inbox under its log position, so a redelivered record is
// never committed twice.
type StreamHandler struct {
	inbox  Inbox
	pool   Submitter
	logger *zap.Logger
}

// NewStreamHandler creates a handler
func NewStreamHandler(inbox Inbox, pool Submitter, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{inbox: inbox, pool: pool, logger: logger}
}

// Handle is a redpanda.MessageHandler. It returns nil once the record is
// settled: committed, already committed, or rejected for good. Any other
// error asks the consumer to deliver the record again.
func (h *StreamHandler) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	key := idempotency.RecordKey(msg.Topic, msg.Partition, msg.Offset)
	payload, err := json.Marshal(string(msg.Value))
	if err != nil {
		return fmt.Errorf("encode inbox payload: %w", err)
	}

	res, err := h.inbox.Process(ctx, key, HandlerName, payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		result, err := h.pool.SubmitWait(ctx, &workerpool.Task{
			ID:      key,
			Payload: msg.Value,
			Context: ctx,
		})
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return nil, result.Error
		}
		return json.Marshal(result.Data)
	})

	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	}
	switch {
	case err == nil:
		if !res.IsNew && !res.WasRecovered {
			h.logger.Info("record already ingested", fields...)
		}
		return nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		h.logger.Info("record previously rejected", fields...)
		return nil
	case IsTerminal(err):
		h.logger.Warn("record rejected",
			append(fields, zap.String("category", Category(err)), zap.Error(err))...)
		return nil
	}
	return err
}
