package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/registry"
	"github.com/petal-labs/signalflow/schedule"
	"github.com/petal-labs/signalflow/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP run API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	// Event streams stay open for the whole run, so no write timeout by default.
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (0 disables)")
	cmd.Flags().Bool("schedules", false, "Also run the schedules declared in signalflow.yaml")
	cmd.Flags().Duration("schedule-poll", 5*time.Second, "How often due schedules are checked")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	withSchedules, _ := cmd.Flags().GetBool("schedules")
	schedulePoll, _ := cmd.Flags().GetDuration("schedule-poll")

	env, err := setupEnvironment(cmd, false)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close(context.Background()) }()

	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()
	opts, err := env.runOptions(eb)
	if err != nil {
		return exitError(exitConfig, "instrumenting runs: %v", err)
	}

	runServer := server.NewServer(server.Config{
		Engine:      env.engine(),
		Definitions: registry.NewWithBuiltins().All(),
		Bus:         eb,
		EventStore:  env.store,
		RunOptions:  opts,
		CORSOrigin:  corsOrigin,
		MaxBody:     maxBody,
		Logger:      env.logger,
	})

	var sched *schedule.Scheduler
	if withSchedules && len(env.cfg.Schedules) > 0 {
		sched, _, err = buildScheduler(env, eb, schedulePoll)
		if err != nil {
			return err
		}
		sched.Start()
		env.logger.Info("scheduler started", "schedules", len(env.cfg.Schedules), "poll", schedulePoll)
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      runServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		env.logger.Info("listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		env.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var errs []error
		if sched != nil {
			errs = append(errs, sched.Stop(shutdownCtx))
		}
		errs = append(errs, httpServer.Shutdown(shutdownCtx), runServer.Shutdown(shutdownCtx))
		if err := errors.Join(errs...); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if sched != nil {
			_ = sched.Stop(context.Background())
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
