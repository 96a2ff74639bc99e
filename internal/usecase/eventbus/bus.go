package eventbus

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"botgate/internal/domain"
)

// PublishObserver is notified once per accepted event.
type PublishObserver interface {
	EventPublished(eventType string)
}

// subscription owns a FIFO mailbox drained by a single goroutine, so one
// handler sees events in publish order and never concurrently.
type subscription struct {
	id         uint64
	eventType  domain.EventType
	instanceID string
	handler    domain.EventHandler

	mu      sync.Mutex
	queue   []queued
	closing bool
	wake    chan struct{}
	done    chan struct{}
}

type queued struct {
	ctx   context.Context
	event domain.Event
}

func (s *subscription) matches(e domain.Event) bool {
	return s.eventType == e.Type && (s.instanceID == "" || s.instanceID == e.InstanceID)
}

// enqueue returns false once the subscription is closing.
func (s *subscription) enqueue(q queued) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, q)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// shutdown stops intake; already queued events are still delivered.
func (s *subscription) shutdown() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Bus is an in-process, goroutine-safe event bus shared by all instances.
type Bus struct {
	mu       sync.RWMutex
	subs     []*subscription
	nextID   atomic.Uint64
	closed   atomic.Bool
	logger   *slog.Logger
	observer PublishObserver

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// Option configures a Bus.
type Option func(*Bus)

// WithObserver reports accepted events, typically to metrics.
func WithObserver(o PublishObserver) Option {
	return func(b *Bus) { b.observer = o }
}

// New creates an event bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	t := time.Now()
	b := &Bus{
		logger:  logger,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues the event on every matching subscription and returns
// without waiting for handlers. Missing IDs and timestamps are filled in.
// After Close it returns domain.ErrBusClosed.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	if b.closed.Load() {
		return domain.ErrBusClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = b.newID(event.Timestamp)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		return domain.ErrBusClosed
	}

	// Handlers outlive the publisher's request scope.
	q := queued{ctx: context.WithoutCancel(ctx), event: event}
	for _, sub := range b.subs {
		if sub.matches(event) {
			sub.enqueue(q)
		}
	}
	if b.observer != nil {
		b.observer.EventPublished(string(event.Type))
	}
	return nil
}

// Subscribe registers handler for eventType. An empty instanceID matches
// every instance. The returned function unsubscribes after delivering
// whatever was already queued.
func (b *Bus) Subscribe(eventType domain.EventType, instanceID string, handler domain.EventHandler) func() {
	sub := &subscription{
		id:         b.nextID.Add(1),
		eventType:  eventType,
		instanceID: instanceID,
		handler:    handler,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		close(sub.done)
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.drain(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s.id == sub.id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			sub.shutdown()
		})
	}
}

// Close rejects further publishes and waits until every queued event has
// been handled. It is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	for _, sub := range subs {
		<-sub.done
	}
}

func (b *Bus) drain(sub *subscription) {
	defer close(sub.done)
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			if sub.closing {
				sub.mu.Unlock()
				return
			}
			sub.mu.Unlock()
			<-sub.wake
			continue
		}
		next := sub.queue[0]
		sub.queue[0] = queued{}
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		b.invoke(sub, next)
	}
}

func (b *Bus) invoke(sub *subscription, q queued) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(q.event.Type),
				"event_id", q.event.ID,
				"instance_id", q.event.InstanceID,
				"panic", r,
			)
		}
	}()
	sub.handler(q.ctx, q.event)
}

func (b *Bus) newID(t time.Time) string {
	b.entropyMu.Lock()
	defer b.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), b.entropy).String()
}

var _ domain.EventBus = (*Bus)(nil)
