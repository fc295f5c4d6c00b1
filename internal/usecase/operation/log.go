// Package operation tracks multi-step background operations started by
// reconfiguration flows.
package operation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/metrics"
)

// MaxRecords is the number of records kept; the oldest are evicted.
const MaxRecords = 50

// Log is a bounded, ordered list of OperationRecords mirrored to a FileStore.
type Log struct {
	mu      sync.Mutex
	records []domain.OperationRecord // oldest first
	store   *FileStore
	bus     domain.EventBus
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithBus publishes operation.updated for every mutation.
func WithBus(bus domain.EventBus) Option { return func(l *Log) { l.bus = bus } }

// WithMetrics counts records reaching a terminal status.
func WithMetrics(m *metrics.Metrics) Option { return func(l *Log) { l.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }

// NewLog loads the mirrored records from store. store may be nil for a
// memory-only log.
func NewLog(store *FileStore, logger *slog.Logger, opts ...Option) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if store != nil {
		recs, err := store.Load()
		if err != nil {
			return nil, err
		}
		l.records = recs
		l.evict()
	}
	return l, nil
}

// Begin starts a new operation with the given number of steps.
func (l *Log) Begin(ctx context.Context, opType, title string, steps int) (domain.OperationRecord, error) {
	if opType == "" {
		return domain.OperationRecord{}, domain.NewSubSystemError("operation", "Log.Begin", domain.ErrInvalidInput, "empty type")
	}
	if steps < 0 {
		steps = 0
	}

	l.mu.Lock()
	rec := domain.OperationRecord{
		ID:        ulid.Make().String(),
		Type:      opType,
		Title:     title,
		Status:    domain.OpStarted,
		Timestamp: l.now().UTC(),
		Steps:     steps,
	}
	l.records = append(l.records, rec)
	l.evict()
	l.persistLocked()
	l.mu.Unlock()

	l.logger.Info("operation started", "operation_id", rec.ID, "type", opType, "steps", steps)
	l.publish(ctx, rec)
	return rec, nil
}

// Advance records progress on a running operation.
func (l *Log) Advance(ctx context.Context, id string, step int, message string) (domain.OperationRecord, error) {
	return l.mutate(ctx, "Log.Advance", id, false, func(r *domain.OperationRecord) {
		r.Status = domain.OpInProgress
		if step > r.Steps {
			r.Steps = step
		}
		r.Step = step
		r.Message = message
	})
}

// Complete finishes an operation as completed or failed.
func (l *Log) Complete(ctx context.Context, id string, success bool, message string) (domain.OperationRecord, error) {
	st := domain.OpFailed
	if success {
		st = domain.OpCompleted
	}
	return l.finish(ctx, "Log.Complete", id, st, message)
}

// Cancel marks a running operation cancelled. Work already started on the
// server side is not aborted.
func (l *Log) Cancel(ctx context.Context, id string) (domain.OperationRecord, error) {
	return l.finish(ctx, "Log.Cancel", id, domain.OpCancelled, "cancelled by user")
}

// MarkRolledBack records that a finished operation's effects were reverted.
func (l *Log) MarkRolledBack(ctx context.Context, id, message string) (domain.OperationRecord, error) {
	return l.mutate(ctx, "Log.MarkRolledBack", id, true, func(r *domain.OperationRecord) {
		r.Status = domain.OpRolledBack
		r.Message = message
		t := l.now().UTC()
		r.CompletedAt = &t
	})
}

func (l *Log) finish(ctx context.Context, op, id string, st domain.OperationStatus, message string) (domain.OperationRecord, error) {
	rec, err := l.mutate(ctx, op, id, false, func(r *domain.OperationRecord) {
		r.Status = st
		r.Message = message
		if st == domain.OpCompleted {
			r.Step = r.Steps
		}
		t := l.now().UTC()
		r.CompletedAt = &t
	})
	if err == nil {
		l.metrics.OperationFinished(rec.Type, string(st))
	}
	return rec, err
}

// mutate applies fn to record id. Terminal records are only mutable when
// allowTerminal is set.
func (l *Log) mutate(ctx context.Context, op, id string, allowTerminal bool, fn func(*domain.OperationRecord)) (domain.OperationRecord, error) {
	l.mu.Lock()
	i := l.index(id)
	if i < 0 {
		l.mu.Unlock()
		return domain.OperationRecord{}, domain.NewSubSystemError("operation", op, domain.ErrNotFound, id)
	}
	if l.records[i].Status.Terminal() && !allowTerminal {
		st := l.records[i].Status
		l.mu.Unlock()
		return domain.OperationRecord{}, domain.NewSubSystemError("operation", op, domain.ErrInvalidInput,
			fmt.Sprintf("operation %s is already %s", id, st))
	}
	fn(&l.records[i])
	rec := l.records[i]
	l.persistLocked()
	l.mu.Unlock()

	l.logger.Debug("operation updated", "operation_id", id, "status", rec.Status, "step", rec.Step)
	l.publish(ctx, rec)
	return rec, nil
}

// List returns all records, newest first.
func (l *Log) List() []domain.OperationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := slices.Clone(l.records)
	slices.Reverse(out)
	return out
}

// Get returns record id.
func (l *Log) Get(id string) (domain.OperationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.index(id); i >= 0 {
		return l.records[i], nil
	}
	return domain.OperationRecord{}, domain.NewSubSystemError("operation", "Log.Get", domain.ErrNotFound, id)
}

func (l *Log) index(id string) int {
	return slices.IndexFunc(l.records, func(r domain.OperationRecord) bool { return r.ID == id })
}

func (l *Log) evict() {
	if n := len(l.records) - MaxRecords; n > 0 {
		l.records = slices.Delete(l.records, 0, n)
	}
}

// persistLocked mirrors the list. The mirror is best effort: the in-memory
// log stays authoritative for this process.
func (l *Log) persistLocked() {
	if l.store == nil {
		return
	}
	if err := l.store.Save(l.records); err != nil {
		l.logger.Warn("operation log not mirrored", "error", err)
	}
}

func (l *Log) publish(ctx context.Context, rec domain.OperationRecord) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(ctx, domain.NewEvent(domain.EventOperationUpdated, rec))
}
