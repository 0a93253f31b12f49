package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/runtime"
)

// eventRecord is the JSON form of runtime.Event used by the Redis store and
// by `signalflow events`.
type eventRecord struct {
	Kind      string         `json:"kind"`
	RunID     string         `json:"run_id"`
	Seq       uint64         `json:"seq"`
	NodeID    string         `json:"node_id,omitempty"`
	Archetype string         `json:"archetype,omitempty"`
	Scope     string         `json:"scope,omitempty"`
	Time      time.Time      `json:"time"`
	ElapsedMs float64        `json:"elapsed_ms"`
	Payload   map[string]any `json:"payload,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

// MarshalEvent encodes an event as JSON. Payload values that JSON cannot
// represent (errors, channels) are converted to strings first.
func MarshalEvent(e runtime.Event) ([]byte, error) {
	rec := eventRecord{
		Kind:      string(e.Kind),
		RunID:     e.RunID,
		Seq:       e.Seq,
		NodeID:    e.NodeID,
		Archetype: string(e.Archetype),
		Scope:     e.Scope,
		Time:      e.Time.UTC(),
		ElapsedMs: float64(e.Elapsed) / float64(time.Millisecond),
		Payload:   encodablePayload(e.Payload),
		TraceID:   e.TraceID,
		SpanID:    e.SpanID,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("bus: marshal event: %w", err)
	}
	return data, nil
}

// UnmarshalEvent decodes an event produced by MarshalEvent.
func UnmarshalEvent(data []byte) (runtime.Event, error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return runtime.Event{}, fmt.Errorf("bus: unmarshal event: %w", err)
	}
	e := runtime.Event{
		Kind:      runtime.EventKind(rec.Kind),
		RunID:     rec.RunID,
		Seq:       rec.Seq,
		NodeID:    rec.NodeID,
		Archetype: core.Archetype(rec.Archetype),
		Scope:     rec.Scope,
		Time:      rec.Time,
		Elapsed:   time.Duration(rec.ElapsedMs * float64(time.Millisecond)),
		Payload:   rec.Payload,
		TraceID:   rec.TraceID,
		SpanID:    rec.SpanID,
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return e, nil
}

func encodablePayload(p map[string]any) map[string]any {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch val := v.(type) {
		case error:
			out[k] = val.Error()
		case fmt.Stringer:
			out[k] = val.String()
		default:
			if _, err := json.Marshal(val); err != nil {
				out[k] = fmt.Sprint(val)
				continue
			}
			out[k] = val
		}
	}
	return out
}
