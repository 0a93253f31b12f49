package bus

import (
	"context"
	"sort"
	"sync"

	"github.com/petal-labs/signalflow/runtime"
)

// MemEventStore is a thread-safe in-memory event store.
type MemEventStore struct {
	mu     sync.RWMutex
	events map[string][]runtime.Event
}

// NewMemEventStore creates a new in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{events: make(map[string][]runtime.Event)}
}

func (s *MemEventStore) Append(_ context.Context, event runtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.RunID] = append(s.events[event.RunID], event)
	return nil
}

func (s *MemEventStore) List(_ context.Context, runID string, opts ListOptions) ([]runtime.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterEvents(s.events[runID], opts), nil
}

func (s *MemEventStore) LatestSeq(_ context.Context, runID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest uint64
	for _, e := range s.events[runID] {
		latest = max(latest, e.Seq)
	}
	return latest, nil
}

func (s *MemEventStore) Runs(_ context.Context) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]RunSummary, 0, len(s.events))
	for id, events := range s.events {
		runs = append(runs, summarize(id, events))
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemEventStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[runID]; !ok {
		return ErrRunNotFound
	}
	delete(s.events, runID)
	return nil
}

// sortRuns orders runs most recently updated first, then by id.
func sortRuns(runs []RunSummary) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Updated.Equal(runs[j].Updated) {
			return runs[i].Updated.After(runs[j].Updated)
		}
		return runs[i].RunID < runs[j].RunID
	})
}

var _ EventStore = (*MemEventStore)(nil)
