// Package audit delivers scan audit entries to the store, either directly
// or through the queue and a worker.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"verifyme/internal/logging"
	"verifyme/internal/queue"
	"verifyme/internal/student"
)

// MessageType tags scan audit messages on the queue.
const MessageType = "scan_audit"

// Appender is the append-only scan log.
type Appender interface {
	AppendScanLog(ctx context.Context, e student.AuditEntry) error
}

// StoreSink appends entries synchronously.
type StoreSink struct {
	store Appender
}

func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Append(ctx context.Context, e student.AuditEntry) error {
	return s.store.AppendScanLog(ctx, e)
}

// QueueSink publishes entries for Worker to append.
type QueueSink struct {
	q queue.Queue
}

func NewQueueSink(q queue.Queue) *QueueSink {
	return &QueueSink{q: q}
}

func (s *QueueSink) Append(ctx context.Context, e student.AuditEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if err := s.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}

// Worker drains scan audit messages into the store.
type Worker struct {
	q      queue.Queue
	store  Appender
	logger *slog.Logger
}

func NewWorker(q queue.Queue, store Appender, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{q: q, store: store, logger: logger}
}

// Run consumes until ctx is done. Messages of other types and entries that
// fail to decode or append are logged and skipped.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	w.logger.Info("audit worker started")
	for msg := range msgs {
		w.handle(ctx, msg)
	}
	w.logger.Info("audit worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	if msg.Type != MessageType {
		w.logger.Warn("unknown message type", "type", msg.Type)
		return
	}
	var e student.AuditEntry
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		w.logger.Error("decode audit entry", "error", err)
		return
	}
	if err := w.store.AppendScanLog(ctx, e); err != nil {
		w.logger.Error("append audit entry", "entry_id", e.ID, "student_id", e.StudentID, "error", err)
		return
	}
	w.logger.Debug("audit entry stored", "entry_id", e.ID, "lag", e.Timestamp.Sub(msg.EnqueuedAt).String())
}
