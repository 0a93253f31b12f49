package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/config"
	"github.com/petal-labs/signalflow/otel"
	"github.com/petal-labs/signalflow/registry"
	"github.com/petal-labs/signalflow/runtime"
)

// environment is the process-wide wiring shared by the subcommands: config,
// logger, event store and optional telemetry.
type environment struct {
	cfg        config.File
	configPath string
	logger     *slog.Logger
	store      bus.EventStore
	telemetry  *otel.Providers
}

// loadSettings discovers the config file and applies flag overrides.
func loadSettings(cmd *cobra.Command) (config.File, string, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, path, err := config.Load(explicit)
	if err != nil {
		return config.File{}, "", exitError(exitConfig, "%v", err)
	}

	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Events.Store = v
	}
	if v, _ := cmd.Flags().GetString("sqlite-dsn"); v != "" {
		cfg.Events.SQLiteDSN = v
	}
	if v, _ := cmd.Flags().GetString("redis-addr"); v != "" {
		cfg.Events.RedisAddr = v
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		cfg.LogLevel = "error"
	}
	if err := cfg.Validate(); err != nil {
		return config.File{}, "", exitError(exitConfig, "%v", err)
	}
	return cfg, path, nil
}

// setupEnvironment prepares logging and the event store. Telemetry is only
// started when withTelemetry is set or an OTLP endpoint is configured.
func setupEnvironment(cmd *cobra.Command, withTelemetry bool) (*environment, error) {
	cfg, path, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	store, err := openEventStore(cmd.Context(), cfg.Events)
	if err != nil {
		return nil, exitError(exitConfig, "opening %s event store: %v", cfg.Events.Store, err)
	}
	env := &environment{cfg: cfg, configPath: path, logger: logger, store: store}

	if withTelemetry || cfg.Telemetry.OTLPEndpoint != "" {
		env.telemetry, err = otel.Setup(cmd.Context(), otel.Config{
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			Insecure:    cfg.Telemetry.Insecure,
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			_ = env.Close(context.Background())
			return nil, exitError(exitConfig, "setting up telemetry: %v", err)
		}
	}
	logger.Debug("environment ready", "config", path, "store", cfg.Events.Store, "telemetry", env.telemetry != nil)
	return env, nil
}

func openEventStore(ctx context.Context, cfg config.EventsConfig) (bus.EventStore, error) {
	age, err := cfg.RetentionAge()
	if err != nil {
		return nil, err
	}
	switch cfg.Store {
	case config.StoreSQLite:
		return bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
			DSN:            cfg.SQLiteDSN,
			RetentionAge:   age,
			RetentionCount: cfg.RetentionCount,
		})
	case config.StoreRedis:
		return bus.NewRedisEventStore(ctx, bus.RedisStoreConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
			TTL:       age,
		})
	default:
		return bus.NewMemEventStore(), nil
	}
}

func (env *environment) engine() *runtime.Engine {
	return runtime.NewEngine(registry.NewWithBuiltins(), runtime.Config{
		Logger:             env.logger,
		MaxWhileIterations: env.cfg.Engine.MaxWhileIterations,
	})
}

// runOptions wires one run's events: the bus, store persistence, delta
// throttling and telemetry.
func (env *environment) runOptions(eventBus *bus.MemBus) (runtime.RunOptions, error) {
	persist := bus.NewStoreSubscriber(env.store, env.logger)
	handlers := []runtime.EventHandler{persist.Handle}
	var decorators []runtime.EventEmitterDecorator

	if ms := env.cfg.Events.ThrottleMs; ms > 0 {
		decorators = append(decorators, bus.ThrottleDecorator(bus.ThrottleConfig{
			CoalesceInterval: time.Duration(ms) * time.Millisecond,
		}))
	}
	if env.telemetry != nil {
		decorator, metrics, err := env.telemetry.Instrument()
		if err != nil {
			return runtime.RunOptions{}, err
		}
		decorators = append(decorators, decorator)
		handlers = append(handlers, metrics)
	}

	opts := runtime.RunOptions{
		EventHandler:          runtime.MultiEventHandler(handlers...),
		EventEmitterDecorator: runtime.ChainDecorators(decorators...),
	}
	if eventBus != nil {
		opts.EventBus = eventBus
	}
	return opts, nil
}

// Close flushes telemetry and closes the event store.
func (env *environment) Close(ctx context.Context) error {
	var errs []error
	if env.telemetry != nil {
		if err := env.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if closer, ok := env.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event store: %w", err))
		}
	}
	return errors.Join(errs...)
}
