package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/petal-labs/signalflow/core"
)

// StreamPort is the stream port of stream/counter.
const StreamPort = "stream"

// counterDefinition pushes 0..chunks-1 on its stream port from a background
// goroutine, optionally failing at failAt.
func counterDefinition() core.Definition {
	return core.Definition{
		Type:        TypeCounter,
		Version:     Version,
		Archetype:   core.ArchetypeStream,
		Category:    "stream",
		DisplayName: "Counter",
		Description: "Streams the integers 0..chunks-1",
		Ports: []core.Port{
			core.ControlIn(core.PortIn),
			core.DataOut(StreamPort, "number"),
			core.DataOut(core.FullPort(StreamPort), "array"),
			core.ControlOut(core.DonePort(StreamPort)),
			core.ControlOut(core.ErrorPort(StreamPort)),
		},
		Properties: []core.Property{
			{Name: "chunks", Label: "Chunks", Default: 3},
			{Name: "intervalMs", Label: "Interval (ms)", Default: 0},
			{Name: "failAt", Label: "Fail at chunk", Default: -1},
		},
		Stream: func(ctx context.Context, p core.RunParams) (core.Subscribable, error) {
			chunks := paramInt(p.Params, "chunks", 3)
			if chunks < 0 {
				return nil, fmt.Errorf("chunks must not be negative, got %d", chunks)
			}
			c := counter{
				chunks:   chunks,
				interval: paramDuration(p.Params, "intervalMs"),
				failAt:   paramInt(p.Params, "failAt", -1),
			}
			return core.SubscribeFunc(func(obs core.StreamObserver) core.Subscription {
				return c.start(ctx, obs)
			}), nil
		},
	}
}

type counter struct {
	chunks   int
	interval time.Duration
	failAt   int
}

func (c counter) start(ctx context.Context, obs core.StreamObserver) core.Subscription {
	stop := make(chan struct{})
	go func() {
		for i := 0; i < c.chunks; i++ {
			if i > 0 && c.interval > 0 {
				t := time.NewTimer(c.interval)
				select {
				case <-t.C:
				case <-stop:
					t.Stop()
					return
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			if i == c.failAt {
				obs.OnError(StreamPort, fmt.Errorf("counter failed at chunk %d", i))
				return
			}
			obs.OnData(StreamPort, i)
		}
		obs.OnDone(StreamPort)
	}()
	return core.UnsubscribeFunc(func() { close(stop) })
}
