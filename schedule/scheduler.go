// Package schedule triggers workflow runs on cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
)

const defaultPollInterval = 5 * time.Second

// RunStatus is the outcome of a job's latest activation.
type RunStatus string

const (
	StatusPending        RunStatus = "pending"
	StatusRunning        RunStatus = "running"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusSkippedOverlap RunStatus = "skipped_overlap"
)

// Job is a workflow bound to a cron expression. Input is handed to the
// graph's triggerable start node.
type Job struct {
	Name  string
	Cron  string
	Graph *graph.Graph
	Input core.NodeOutput
}

// Status is a snapshot of one job's bookkeeping.
type Status struct {
	Name       string
	NextRunAt  time.Time
	LastRunAt  time.Time
	LastStatus RunStatus
	LastError  string
	LastRunID  string
}

// RunFunc executes one activation of job and returns the run id.
type RunFunc func(ctx context.Context, job Job, scheduledAt time.Time) (string, error)

// Config configures a Scheduler.
type Config struct {
	Jobs         []Job
	Run          RunFunc
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

type entry struct {
	job      Job
	schedule cron.Schedule
	status   Status
	active   bool
}

// Scheduler polls its jobs and starts the ones that are due. A job whose
// previous activation is still running is skipped, not queued.
type Scheduler struct {
	run          RunFunc
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
}

// New validates the jobs and computes their first activation.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Run == nil {
		return nil, errors.New("scheduler run func is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	now := cfg.Now().UTC()
	entries := make(map[string]*entry, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if job.Name == "" {
			return nil, errors.New("scheduled job name is required")
		}
		if _, dup := entries[job.Name]; dup {
			return nil, fmt.Errorf("duplicate scheduled job %q", job.Name)
		}
		if job.Graph == nil {
			return nil, fmt.Errorf("scheduled job %q has no graph", job.Name)
		}
		sched, err := ParseCron(job.Cron)
		if err != nil {
			return nil, fmt.Errorf("scheduled job %q: %w", job.Name, err)
		}
		entries[job.Name] = &entry{
			job:      job,
			schedule: sched,
			status: Status{
				Name:       job.Name,
				NextRunAt:  sched.Next(now),
				LastStatus: StatusPending,
			},
		}
	}

	return &Scheduler{
		run:          cfg.Run,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
		entries:      entries,
	}, nil
}

// Start begins background polling. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop ends polling and waits for in-flight runs or ctx, whichever is first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce starts every job whose next activation is due and returns the
// number started.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now().UTC()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.status.NextRunAt.After(now) {
			continue
		}
		e.status.NextRunAt = e.schedule.Next(now)
		if e.active {
			e.status.LastStatus = StatusSkippedOverlap
			e.status.LastError = "skipped because prior scheduled run is still active"
			s.logger.Warn("scheduled run skipped", "schedule", e.job.Name, "next_run_at", e.status.NextRunAt)
			continue
		}
		e.active = true
		e.status.LastStatus = StatusRunning
		e.status.LastError = ""
		due = append(due, e)
	}
	s.inflight.Add(len(due))
	s.mu.Unlock()

	for _, e := range due {
		go s.runJob(ctx, e, now)
	}
	return len(due)
}

func (s *Scheduler) runJob(ctx context.Context, e *entry, scheduledAt time.Time) {
	defer s.inflight.Done()

	// Runs outlive the poll loop so Stop can drain them.
	runID, err := s.run(context.WithoutCancel(ctx), e.job, scheduledAt)
	finish := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	e.active = false
	e.status.LastRunAt = finish
	if err != nil {
		e.status.LastStatus = StatusFailed
		e.status.LastError = err.Error()
		s.logger.Error("scheduled run failed", "schedule", e.job.Name, "run_id", runID, "error", err)
		return
	}
	e.status.LastStatus = StatusCompleted
	e.status.LastRunID = runID
	s.logger.Info("scheduled run completed", "schedule", e.job.Name, "run_id", runID)
}

// Statuses returns a snapshot of every job ordered by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
