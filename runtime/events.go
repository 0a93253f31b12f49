// Package runtime provides the execution engine for SignalFlow workflow graphs.
package runtime

import (
	"time"

	"github.com/petal-labs/signalflow/core"
)

// EventKind identifies the type of event emitted by the runtime.
type EventKind string

const (
	// EventRunStarted is emitted when a top-level run begins.
	EventRunStarted EventKind = "run.started"

	// EventNodeStarted is emitted when a handler starts working on a node.
	EventNodeStarted EventKind = "node.started"

	// EventNodeFailed is emitted when a node's behavior fails. The branch
	// downstream of the node goes silent; the run continues.
	EventNodeFailed EventKind = "node.failed"

	// EventNodeFinished is emitted when a node completes successfully.
	EventNodeFinished EventKind = "node.finished"

	// EventNodeOutputDelta is emitted for every chunk a stream-action pushes.
	EventNodeOutputDelta EventKind = "node.output.delta"

	// EventNodeCustom carries events published by node behaviors through
	// Hooks.OnCustomEvent.
	EventNodeCustom EventKind = "node.custom"

	// EventRunFinished is emitted when a top-level run completes.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured, streamable record of what happened during execution.
// Events should be kept small.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// NodeID is the node that produced this event (empty for run-level events).
	NodeID string

	// Archetype of the node (empty for run-level events).
	Archetype core.Archetype

	// Scope identifies the execution state the node ran in. Nested loop and
	// compound runs have their own scope.
	Scope string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run or node started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID string, archetype core.Archetype) Event {
	e.NodeID = nodeID
	e.Archetype = archetype
	return e
}

// WithScope sets the execution scope on the event.
func (e Event) WithScope(scope string) Event {
	e.Scope = scope
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior, for
// example trace metadata.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// ChainDecorators composes decorators. The first one sees events first.
func ChainDecorators(decorators ...EventEmitterDecorator) EventEmitterDecorator {
	return func(emit EventEmitter) EventEmitter {
		for i := len(decorators) - 1; i >= 0; i-- {
			if decorators[i] != nil {
				emit = decorators[i](emit)
			}
		}
		return emit
	}
}

// EventPublisher can publish events to external subscribers.
// This interface is satisfied by bus.EventBus, allowing the runtime
// to distribute events without importing the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}
