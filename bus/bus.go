// Package bus distributes and persists the events a SignalFlow run emits.
// The engine only knows runtime.EventPublisher; everything here sits on the
// observer side: fan-out to subscribers, replayable stores, and delta
// throttling for UIs that cannot keep up with every stream chunk.
package bus

import "github.com/petal-labs/signalflow/runtime"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runtime.Event)

	// Subscribe registers a subscriber for one run. When kinds is non-empty
	// only those event kinds are delivered.
	Subscribe(runID string, kinds ...runtime.EventKind) Subscription

	// SubscribeAll registers a subscriber that receives events from all runs.
	SubscribeAll(kinds ...runtime.EventKind) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events. It must be closed when done.
type Subscription interface {
	Events() <-chan runtime.Event
	Close() error
}

// kindFilter reports whether an event kind passes a subscription filter.
type kindFilter map[runtime.EventKind]struct{}

func newKindFilter(kinds []runtime.EventKind) kindFilter {
	if len(kinds) == 0 {
		return nil
	}
	f := make(kindFilter, len(kinds))
	for _, k := range kinds {
		f[k] = struct{}{}
	}
	return f
}

func (f kindFilter) allows(k runtime.EventKind) bool {
	if f == nil {
		return true
	}
	_, ok := f[k]
	return ok
}
