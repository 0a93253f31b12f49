package bus

import (
	"context"
	"log/slog"

	"github.com/petal-labs/signalflow/runtime"
)

// StoreSubscriber writes events to an EventStore.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{store: store, logger: logger}
}

// Handle persists a single event. Failures are logged, never returned, so a
// broken store cannot stall a run. Handle has the runtime.EventHandler
// signature and can be passed as RunOptions.EventHandler directly.
func (s *StoreSubscriber) Handle(event runtime.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist event",
			"run_id", event.RunID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Consume persists every event delivered on sub until the subscription
// closes or ctx is done.
func (s *StoreSubscriber) Consume(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			s.Handle(e)
		}
	}
}
