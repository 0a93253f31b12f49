package bus

import (
	"sync"

	"github.com/petal-labs/signalflow/runtime"
)

// DefaultSubscriberBufferSize is the per-subscriber channel capacity.
const DefaultSubscriberBufferSize = 256

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber.
	SubscriberBufferSize int
}

// MemBus is an in-process event bus. Publishing never blocks: a subscriber
// whose buffer is full misses the event and its drop counter is bumped.
type MemBus struct {
	mu      sync.RWMutex
	runSubs map[string][]*memSub
	allSubs []*memSub
	bufSize int
	closed  bool
}

// NewMemBus creates a new in-memory event bus.
func NewMemBus(config MemBusConfig) *MemBus {
	size := config.SubscriberBufferSize
	if size <= 0 {
		size = DefaultSubscriberBufferSize
	}
	return &MemBus{
		runSubs: make(map[string][]*memSub),
		bufSize: size,
	}
}

// Publish delivers event to the subscribers of its run and to global
// subscribers. Events published after Close are dropped.
func (b *MemBus) Publish(event runtime.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.runSubs[event.RunID] {
		s.send(event)
	}
	for _, s := range b.allSubs {
		s.send(event)
	}
}

// Subscribe registers a subscriber for a single run.
func (b *MemBus) Subscribe(runID string, kinds ...runtime.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.newSub(kinds)
	s.detach = func() { b.remove(runID, s) }
	if b.closed {
		s.close()
		return s
	}
	b.runSubs[runID] = append(b.runSubs[runID], s)
	return s
}

// SubscribeAll registers a subscriber for every run.
func (b *MemBus) SubscribeAll(kinds ...runtime.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.newSub(kinds)
	s.detach = func() { b.remove("", s) }
	if b.closed {
		s.close()
		return s
	}
	b.allSubs = append(b.allSubs, s)
	return s
}

// Close shuts down the bus and closes every subscription.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.runSubs {
		for _, s := range subs {
			s.close()
		}
	}
	for _, s := range b.allSubs {
		s.close()
	}
	b.runSubs = make(map[string][]*memSub)
	b.allSubs = nil
	return nil
}

// SubscriberCount returns the number of open subscriptions for runID, or of
// global subscriptions when runID is empty.
func (b *MemBus) SubscriberCount(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if runID == "" {
		return len(b.allSubs)
	}
	return len(b.runSubs[runID])
}

func (b *MemBus) newSub(kinds []runtime.EventKind) *memSub {
	return &memSub{
		ch:     make(chan runtime.Event, b.bufSize),
		filter: newKindFilter(kinds),
	}
}

// remove drops s from the bus. An empty runID means the global list.
func (b *MemBus) remove(runID string, s *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.allSubs = without(b.allSubs, s)
		return
	}
	subs := without(b.runSubs[runID], s)
	if len(subs) == 0 {
		delete(b.runSubs, runID)
		return
	}
	b.runSubs[runID] = subs
}

func without(subs []*memSub, s *memSub) []*memSub {
	out := subs[:0]
	for _, other := range subs {
		if other != s {
			out = append(out, other)
		}
	}
	return out
}

type memSub struct {
	ch      chan runtime.Event
	filter  kindFilter
	detach  func()
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func (s *memSub) Events() <-chan runtime.Event {
	return s.ch
}

// Close unsubscribes from the bus and closes the channel.
func (s *memSub) Close() error {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
	})
	s.close()
	return nil
}

// Dropped returns the number of events lost to a full buffer.
func (s *memSub) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memSub) send(event runtime.Event) {
	if !s.filter.allows(event.Kind) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		s.dropped++
	}
}

var (
	_ EventBus               = (*MemBus)(nil)
	_ Subscription           = (*memSub)(nil)
	_ runtime.EventPublisher = (*MemBus)(nil)
)
