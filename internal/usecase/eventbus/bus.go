package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"setupwiz/internal/domain"
)

const defaultBacklog = 64

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Option configures a Bus.
type Option func(*Bus)

// WithSynchronous runs handlers inline on the publishing goroutine, in
// subscription order. Tests use it for deterministic delivery; the CLI keeps
// async delivery and does its step-entry work in the command loop instead.
func WithSynchronous() Option {
	return func(b *Bus) { b.sync = true }
}

// WithBacklog keeps the last n events for late subscribers (see Recent).
func WithBacklog(n int) Option {
	return func(b *Bus) { b.backlogCap = n }
}

// Bus is an in-process, goroutine-safe event bus. Every published event is
// stamped with a monotonically increasing sequence number.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	seq     atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
	sync    bool

	backlogMu  sync.Mutex
	backlog    []domain.Event
	backlogCap int
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		typed:      make(map[domain.EventType][]subscription),
		logger:     logger,
		backlogCap: defaultBacklog,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish fans out an event to matching typed subscribers and all-event subscribers.
// Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	event.Seq = b.seq.Add(1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.remember(event)

	b.mu.RLock()
	typed := make([]subscription, len(b.typed[event.Type]))
	copy(typed, b.typed[event.Type])
	allSubs := make([]subscription, len(b.allSubs))
	copy(allSubs, b.allSubs)
	b.mu.RUnlock()

	for _, sub := range typed {
		b.dispatch(ctx, event, sub)
	}
	for _, sub := range allSubs {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	if b.sync {
		b.invoke(ctx, event, sub)
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.invoke(ctx, event, sub)
	}()
}

func (b *Bus) invoke(ctx context.Context, event domain.Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"seq", event.Seq,
				"panic", r,
			)
		}
	}()
	sub.handler(ctx, event)
}

func (b *Bus) remember(event domain.Event) {
	if b.backlogCap <= 0 {
		return
	}
	b.backlogMu.Lock()
	defer b.backlogMu.Unlock()
	if len(b.backlog) == b.backlogCap {
		copy(b.backlog, b.backlog[1:])
		b.backlog = b.backlog[:len(b.backlog)-1]
	}
	b.backlog = append(b.backlog, event)
}

// Recent returns retained events with a sequence number greater than after,
// oldest first.
func (b *Bus) Recent(after uint64) []domain.Event {
	b.backlogMu.Lock()
	defer b.backlogMu.Unlock()
	var out []domain.Event
	for _, ev := range b.backlog {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Drain waits for in-flight asynchronous handlers without closing the bus.
func (b *Bus) Drain() {
	b.wg.Wait()
}

// Close prevents new publishes and waits for all in-flight handlers to finish.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
