package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/loader"
	"github.com/petal-labs/signalflow/schedule"
)

// NewScheduleCmd creates the "schedule" subcommand, which runs the
// schedules declared in signalflow.yaml until interrupted.
func NewScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the workflows scheduled in signalflow.yaml",
		Args:  cobra.NoArgs,
		RunE:  runSchedule,
	}
	cmd.Flags().Bool("list", false, "Print the schedules and their next activation, then exit")
	cmd.Flags().Duration("poll", 5*time.Second, "How often due schedules are checked")
	return cmd
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	env, err := setupEnvironment(cmd, false)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close(context.Background()) }()

	if len(env.cfg.Schedules) == 0 {
		return exitError(exitConfig, "no schedules configured")
	}
	poll, _ := cmd.Flags().GetDuration("poll")
	sched, jobs, err := buildScheduler(env, nil, poll)
	if err != nil {
		return err
	}

	if list, _ := cmd.Flags().GetBool("list"); list {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCRON\tGRAPH\tNEXT RUN")
		byName := make(map[string]schedule.Job, len(jobs))
		for _, j := range jobs {
			byName[j.Name] = j
		}
		for _, st := range sched.Statuses() {
			j := byName[st.Name]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Name, j.Cron, j.Graph.ID, st.NextRunAt.Format(time.RFC3339))
		}
		return tw.Flush()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sched.Start()
	env.logger.Info("scheduler started", "schedules", len(jobs), "poll", poll)
	<-ctx.Done()

	env.logger.Info("scheduler stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		return exitError(exitTimeout, "waiting for scheduled runs: %v", err)
	}
	return nil
}

// buildScheduler loads the graphs of the configured schedules and wires them
// to the engine. Graph paths are relative to the config file.
func buildScheduler(env *environment, eventBus *bus.MemBus, poll time.Duration) (*schedule.Scheduler, []schedule.Job, error) {
	baseDir := "."
	if env.configPath != "" {
		baseDir = filepath.Dir(env.configPath)
	}

	jobs := make([]schedule.Job, 0, len(env.cfg.Schedules))
	for _, s := range env.cfg.Schedules {
		path := s.Graph
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		g, err := loader.Load(path)
		if err != nil {
			return nil, nil, loadError(path, err)
		}
		jobs = append(jobs, schedule.Job{Name: s.Name, Cron: s.Cron, Graph: g, Input: s.Input})
	}

	opts, err := env.runOptions(eventBus)
	if err != nil {
		return nil, nil, exitError(exitConfig, "instrumenting runs: %v", err)
	}
	sched, err := schedule.New(schedule.Config{
		Jobs:         jobs,
		Run:          schedule.EngineRunner(env.engine(), opts),
		PollInterval: poll,
		Logger:       env.logger,
	})
	if err != nil {
		return nil, nil, exitError(exitConfig, "%v", err)
	}
	return sched, jobs, nil
}
