// Package bus fans document events out to live subscribers.
//
// Every subscriber owns a bounded channel. Publishing never blocks: a
// subscriber whose channel is full is disconnected with ErrSlowConsumer.
// Each channel reserves one extra slot so the terminal stop event always fits.
package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/lifecycle"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/quipu/pkg/core"
)

// DefaultBuffer is the per-subscriber channel size when none is configured.
const DefaultBuffer = 100

var (
	// ErrSlowConsumer ends a subscription whose buffer overflowed.
	ErrSlowConsumer = errors.New("subscriber could not keep up")
	// ErrTerminated ends subscriptions stopped by Terminate.
	ErrTerminated = errors.New("subscriptions terminated")
	// ErrClosed is returned once the bus has been closed.
	ErrClosed = errors.New("bus closed")
)

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel size.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m core.MetricsCollector) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// Bus keeps, per collection, the set of live subscriptions.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	closed bool

	nextID    atomic.Uint64
	delivered atomic.Int64
	dropped   atomic.Int64

	buffer  int
	logger  *slog.Logger
	metrics core.MetricsCollector
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[string]map[uint64]*Subscription),
		buffer:  DefaultBuffer,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: core.NoopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscription for collection. When pattern is not
// empty only events whose document id matches the glob are delivered; events
// without an id always are. The subscription ends when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, collection, pattern string) (core.Subscription, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, core.Invalid("invalid id pattern %q", pattern)
	}

	s := &Subscription{
		id:         b.nextID.Add(1),
		bus:        b,
		collection: collection,
		pattern:    pattern,
		buffer:     b.buffer,
		ch:         make(chan core.Event, b.buffer+1),
		done:       make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := b.subs[collection]
	if !ok {
		set = make(map[uint64]*Subscription)
		b.subs[collection] = set
	}
	set[s.id] = s
	b.mu.Unlock()

	lifecycle.Go(ctx, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			b.remove(s, ctx.Err())
		case <-s.done:
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		b.logger.Error("subscription watcher failed", "collection", collection, "error", err)
	}))

	b.logger.Debug("subscriber added", "collection", collection, "subscriber", s.id)
	return s, nil
}

// Publish delivers e to every matching subscriber of its collection without
// blocking. Subscribers that cannot take the event are dropped.
func (b *Bus) Publish(e core.Event) {
	var (
		slow      []*Subscription
		delivered int
	)

	b.mu.RLock()
	for _, s := range b.subs[e.CollectionID] {
		if !s.matches(e) {
			continue
		}
		switch s.offer(e) {
		case offerDelivered:
			delivered++
		case offerFull:
			slow = append(slow, s)
		}
	}
	b.mu.RUnlock()

	b.delivered.Add(int64(delivered))
	b.metrics.RecordPublish(e.CollectionID, e.Type, delivered)

	for _, s := range slow {
		b.dropped.Add(1)
		b.metrics.RecordDrop(e.CollectionID)
		b.logger.Warn("dropping slow subscriber", "collection", e.CollectionID, "subscriber", s.id)
		b.remove(s, ErrSlowConsumer)
	}
}

// Terminate sends a stop event to every subscriber of collection, closes
// their channels and returns how many there were.
func (b *Bus) Terminate(collection string) int {
	b.mu.Lock()
	set := b.subs[collection]
	delete(b.subs, collection)
	b.mu.Unlock()

	stop := core.NewEvent(collection, core.EventStop, "", nil)
	for _, s := range set {
		s.stop(stop, ErrTerminated)
	}
	if len(set) > 0 {
		b.logger.Debug("subscribers terminated", "collection", collection, "count", len(set))
	}
	return len(set)
}

// Close terminates every collection. Later subscriptions fail with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[string]map[uint64]*Subscription)
	b.mu.Unlock()

	for collection, set := range all {
		stop := core.NewEvent(collection, core.EventStop, "", nil)
		for _, s := range set {
			s.stop(stop, ErrClosed)
		}
	}
}

// Subscribers returns the number of live subscriptions of a collection.
func (b *Bus) Subscribers(collection string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[collection])
}

func (b *Bus) remove(s *Subscription, reason error) {
	b.mu.Lock()
	if set, ok := b.subs[s.collection]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(b.subs, s.collection)
		}
	}
	b.mu.Unlock()
	s.close(reason)
}

type offerResult int

const (
	offerDelivered offerResult = iota
	offerFull
	offerClosed
)

// Subscription is a live stream of events for one collection.
type Subscription struct {
	id         uint64
	bus        *Bus
	collection string
	pattern    string
	buffer     int

	mu     sync.Mutex
	ch     chan core.Event
	done   chan struct{}
	closed bool
	err    error
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan core.Event { return s.ch }

// Err reports why the subscription ended: nil after Close, ErrSlowConsumer,
// ErrTerminated, ErrClosed or the context error.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes. It is idempotent and safe concurrently with Publish.
func (s *Subscription) Close() {
	s.bus.remove(s, nil)
}

// Collection returns the subscribed collection id.
func (s *Subscription) Collection() string { return s.collection }

func (s *Subscription) matches(e core.Event) bool {
	if s.pattern == "" || e.ID == "" {
		return true
	}
	ok, err := doublestar.Match(s.pattern, e.ID)
	return err == nil && ok
}

func (s *Subscription) offer(e core.Event) offerResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return offerClosed
	}
	// The last slot is reserved for the stop event.
	if len(s.ch) >= s.buffer {
		return offerFull
	}
	select {
	case s.ch <- e:
		return offerDelivered
	default:
		return offerFull
	}
}

func (s *Subscription) stop(e core.Event, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
	s.finish(reason)
}

func (s *Subscription) close(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.finish(reason)
}

// finish must be called with s.mu held.
func (s *Subscription) finish(reason error) {
	s.closed = true
	s.err = reason
	close(s.ch)
	close(s.done)
}

var _ core.Broker = (*Bus)(nil)
var _ core.Subscription = (*Subscription)(nil)
