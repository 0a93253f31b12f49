package bus

import (
	"context"
	"errors"
	"time"

	"github.com/petal-labs/signalflow/runtime"
)

// ErrRunNotFound is returned when a store holds no events for a run.
var ErrRunNotFound = errors.New("bus: run not found")

// ListOptions filters the events returned by EventStore.List.
type ListOptions struct {
	// AfterSeq returns only events with Seq > AfterSeq (0 means all).
	AfterSeq uint64

	// Limit caps the number of events returned (0 means no limit).
	Limit int

	// Kinds restricts the result to these event kinds when non-empty.
	Kinds []runtime.EventKind
}

// RunSummary describes the events stored for one run.
type RunSummary struct {
	RunID     string
	Events    int
	LatestSeq uint64
	Started   time.Time
	Updated   time.Time
}

// EventStore persists events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event runtime.Event) error

	// List returns the events of a run ordered by Seq.
	List(ctx context.Context, runID string, opts ListOptions) ([]runtime.Event, error)

	// LatestSeq returns the highest Seq for a run (0 if no events).
	LatestSeq(ctx context.Context, runID string) (uint64, error)

	// Runs summarizes every stored run, most recently updated first.
	Runs(ctx context.Context) ([]RunSummary, error)

	// Delete removes all events of a run. Deleting an unknown run returns
	// ErrRunNotFound.
	Delete(ctx context.Context, runID string) error
}

// filterEvents applies opts to events already ordered by Seq.
func filterEvents(events []runtime.Event, opts ListOptions) []runtime.Event {
	kinds := newKindFilter(opts.Kinds)
	var out []runtime.Event
	for _, e := range events {
		if e.Seq <= opts.AfterSeq && opts.AfterSeq > 0 {
			continue
		}
		if !kinds.allows(e.Kind) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}

func summarize(runID string, events []runtime.Event) RunSummary {
	s := RunSummary{RunID: runID, Events: len(events)}
	for i, e := range events {
		if e.Seq > s.LatestSeq {
			s.LatestSeq = e.Seq
		}
		if i == 0 || e.Time.Before(s.Started) {
			s.Started = e.Time
		}
		if e.Time.After(s.Updated) {
			s.Updated = e.Time
		}
	}
	return s
}
