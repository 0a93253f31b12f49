package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/signalflow/runtime"
)

// EngineRunner returns a RunFunc executing jobs on engine. Each run gets a
// fresh id, the job input as initial data and trigger metadata on its
// run.started event. base supplies event wiring shared by all runs.
func EngineRunner(engine *runtime.Engine, base runtime.RunOptions) RunFunc {
	return func(ctx context.Context, job Job, scheduledAt time.Time) (string, error) {
		opts := base
		opts.RunID = uuid.NewString()
		opts.InitialData = job.Input.Clone()
		opts.Metadata = map[string]any{
			"trigger":      "schedule",
			"schedule":     job.Name,
			"scheduled_at": scheduledAt.Format(time.RFC3339),
		}
		_, err := engine.Run(ctx, job.Graph, opts)
		return opts.RunID, err
	}
}
