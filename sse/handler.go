// Package sse streams the events of a SignalFlow run to HTTP clients as
// Server-Sent Events. Stored events are replayed first, then live events are
// forwarded from the event bus until run.finished.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/runtime"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// Handler serves the event stream of one run.
//
// It expects a "run_id" path value and an optional "after" query parameter
// holding the last sequence number the client has seen. Each event is written
// as
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A ": ping" comment is written every HeartbeatInterval. The stream closes on
// run.finished, when the bus closes the subscription, or when the client goes
// away.
type Handler struct {
	store     bus.EventStore
	bus       bus.EventBus
	heartbeat time.Duration
}

// NewHandler creates a Handler. eb may be nil, in which case only stored
// events are replayed.
func NewHandler(store bus.EventStore, eb bus.EventBus) *Handler {
	return &Handler{store: store, bus: eb, heartbeat: HeartbeatInterval}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if runID == "" {
		http.Error(w, "missing run_id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var afterSeq uint64
	if s := r.URL.Query().Get("after"); s != "" {
		parsed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid after parameter", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe before replaying so nothing published in between is lost.
	var sub bus.Subscription
	if h.bus != nil {
		sub = h.bus.Subscribe(runID)
		defer sub.Close()
	}

	lastSeq := afterSeq
	finished, err := h.replay(ctx, w, flusher, runID, &lastSeq)
	if err != nil || finished || sub == nil {
		return
	}
	h.live(ctx, w, flusher, sub, &lastSeq)
}

// replay writes stored events after *lastSeq. It reports whether run.finished
// was among them.
func (h *Handler) replay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, runID string, lastSeq *uint64) (bool, error) {
	events, err := h.store.List(ctx, runID, bus.ListOptions{AfterSeq: *lastSeq})
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := writeEvent(w, e); err != nil {
			return false, err
		}
		flusher.Flush()
		*lastSeq = max(*lastSeq, e.Seq)
		if e.Kind == runtime.EventRunFinished {
			return true, nil
		}
	}
	return false, nil
}

// live forwards subscription events, skipping those already replayed.
func (h *Handler) live(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sub bus.Subscription, lastSeq *uint64) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if e.Seq <= *lastSeq {
				continue
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
			*lastSeq = e.Seq
			if e.Kind == runtime.EventRunFinished {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e runtime.Event) error {
	data, err := bus.MarshalEvent(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Kind, data)
	return err
}
