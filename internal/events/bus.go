// Package events implements the event aggregator and subscriber
// fan-out described in §4.A/§5: every runner holds a clone of the
// sender; one aggregator goroutine owns the receive side and
// best-effort broadcasts to each subscriber's own unbounded queue.
//
// The event type taxonomy and zap-logging/atomic-stats idioms carry
// over from a worker-pool event bus; dispatch here is a single
// aggregator task fanning out to per-subscriber channels instead.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/internal/queue"
	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// Sender is the handle every runner and the engine hold to publish
// events. Multiple independent senders share one underlying aggregator.
type Sender struct {
	in *queue.Unbounded[types.Event]
}

// Send enqueues an event for the aggregator. Best-effort: never blocks,
// never returns an error, matching "send failures are ignored, never
// propagated" from §4.B.
func (s *Sender) Send(e types.Event) {
	s.in.Push(e)
}

// Subscription is an independent read-side handle on the broadcast
// stream, obtained via Bus.Subscribe.
type Subscription struct {
	id     string
	events *queue.Unbounded[types.Event]
	active atomic.Bool
}

// Events returns the channel of events seen by this subscriber, from
// its subscription point onward.
func (s *Subscription) Events() <-chan types.Event {
	return s.events.Out()
}

// Unsubscribe marks this subscription inactive; it is removed from the
// broadcast list on the aggregator's next event, with no side effect on
// other subscribers.
func (s *Subscription) Unsubscribe() {
	s.active.Store(false)
}

// Stats mirrors the teacher's EventBusStats shape: atomic counters plus
// a bounded ring of per-event broadcast latencies. The latency ring is
// recorded only; Snapshot does not report it.
type Stats struct {
	published   atomic.Int64
	delivered   atomic.Int64
	dropped     atomic.Int64
	subscribers atomic.Int64

	mu         sync.Mutex
	latencies  []int64
	latencyIdx int
}

func newStats() *Stats {
	return &Stats{latencies: make([]int64, 2000)}
}

func (s *Stats) recordLatency(ns int64) {
	s.mu.Lock()
	s.latencies[s.latencyIdx] = ns
	s.latencyIdx = (s.latencyIdx + 1) % len(s.latencies)
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the bus's counters.
type Snapshot struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Subscribers int64 `json:"subscribers"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Published:   s.published.Load(),
		Delivered:   s.delivered.Load(),
		Dropped:     s.dropped.Load(),
		Subscribers: s.subscribers.Load(),
	}
}

// Bus owns the aggregator goroutine and the subscriber list. Construct
// once per engine; Sender clones are handed out to every runner.
type Bus struct {
	logger *zap.Logger
	in     *queue.Unbounded[types.Event]
	stats  *Stats

	mu   sync.Mutex
	subs []*Subscription

	stopped chan struct{}
}

// NewBus constructs a Bus and starts its aggregator goroutine.
func NewBus(logger *zap.Logger) *Bus {
	b := &Bus{
		logger:  logger.Named("events"),
		in:      queue.NewUnbounded[types.Event](),
		stats:   newStats(),
		stopped: make(chan struct{}),
	}
	go b.run()
	return b
}

// NewSender returns an independent handle for publishing events.
func (b *Bus) NewSender() *Sender {
	return &Sender{in: b.in}
}

// Subscribe returns an independent read-side handle on the broadcast
// stream. Multiple subscribers are supported; each sees the same event
// sequence from its subscription point onward.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{id: uuid.NewString(), events: queue.NewUnbounded[types.Event]()}
	sub.active.Store(true)
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.stats.subscribers.Add(1)
	return sub
}

// Stats returns the current bus-level counters.
func (b *Bus) Stats() Snapshot {
	return b.stats.Snapshot()
}

// Close stops accepting new events and, once drained, tears down every
// subscriber's queue.
func (b *Bus) Close() {
	b.in.Close()
	<-b.stopped
}

// run is the aggregator task: it owns the receive side of the global
// event channel. For every event it iterates the subscriber list and
// attempts a best-effort clone-send to each; a subscriber whose
// Unsubscribe was called is pruned from the list. All subscribers
// observe events in the order the aggregator received them.
func (b *Bus) run() {
	defer close(b.stopped)
	for e := range b.in.Out() {
		start := time.Now()
		b.stats.published.Add(1)

		b.mu.Lock()
		live := b.subs[:0]
		for _, sub := range b.subs {
			if !sub.active.Load() {
				continue
			}
			sub.events.Push(e)
			b.stats.delivered.Add(1)
			live = append(live, sub)
		}
		b.subs = live
		subscriberCount := len(b.subs)
		b.mu.Unlock()
		b.stats.subscribers.Store(int64(subscriberCount))

		b.stats.recordLatency(time.Since(start).Nanoseconds())
	}
	b.mu.Lock()
	for _, sub := range b.subs {
		sub.events.Close()
	}
	b.subs = nil
	b.mu.Unlock()
}
