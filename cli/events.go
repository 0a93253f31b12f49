package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/config"
	"github.com/petal-labs/signalflow/runtime"
)

// NewEventsCmd creates the "events" command group over the event store.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect recorded run events",
	}
	cmd.AddCommand(newEventsRunsCmd(), newEventsListCmd(), newEventsDeleteCmd())
	return cmd
}

func newEventsRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List runs with recorded events, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store bus.EventStore) error {
				runs, err := store.Runs(ctx)
				if err != nil {
					return exitError(exitRuntime, "listing runs: %v", err)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN ID\tEVENTS\tLATEST SEQ\tSTARTED\tUPDATED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", r.RunID, r.Events, r.LatestSeq,
						r.Started.UTC().Format(time.RFC3339), r.Updated.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newEventsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <run-id>",
		Short: "Print a run's events as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			after, _ := cmd.Flags().GetUint64("after")
			limit, _ := cmd.Flags().GetInt("limit")
			kinds, _ := cmd.Flags().GetStringSlice("kind")
			opts := bus.ListOptions{AfterSeq: after, Limit: limit}
			for _, k := range kinds {
				opts.Kinds = append(opts.Kinds, runtime.EventKind(k))
			}
			return withStore(cmd, func(ctx context.Context, store bus.EventStore) error {
				events, err := store.List(ctx, args[0], opts)
				if err != nil {
					return exitError(exitRuntime, "listing events: %v", err)
				}
				for _, e := range events {
					line, err := bus.MarshalEvent(e)
					if err != nil {
						return exitError(exitRuntime, "encoding event %d: %v", e.Seq, err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(line))
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint64("after", 0, "Only events with a sequence number above this")
	cmd.Flags().Int("limit", 0, "Maximum number of events (0 = all)")
	cmd.Flags().StringSlice("kind", nil, "Only these event kinds (repeatable)")
	return cmd
}

func newEventsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run's events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store bus.EventStore) error {
				if err := store.Delete(ctx, args[0]); err != nil {
					if errors.Is(err, bus.ErrRunNotFound) {
						return exitError(exitFileNotFound, "run %s not found", args[0])
					}
					return exitError(exitRuntime, "deleting run: %v", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
				return nil
			})
		},
	}
}

func withStore(cmd *cobra.Command, fn func(context.Context, bus.EventStore) error) error {
	env, err := setupEnvironment(cmd, false)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close(context.Background()) }()
	if env.cfg.Events.Store == config.StoreMemory {
		env.logger.Warn("the memory event store does not persist between invocations; configure sqlite or redis")
	}
	return fn(cmd.Context(), env.store)
}
