package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/graph"
	"github.com/petal-labs/signalflow/loader"
	"github.com/petal-labs/signalflow/runtime"
)

// Run statuses reported by the API.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunRequest starts a run. The graph is given either as a JSON object in
// Graph or as document text in Source, whose Format defaults to detection.
type RunRequest struct {
	Graph  json.RawMessage `json:"graph,omitempty"`
	Source string          `json:"source,omitempty"`
	Format string          `json:"format,omitempty"`
	Input  map[string]any  `json:"input,omitempty"`
	Start  string          `json:"start,omitempty"`
	RunID  string          `json:"run_id,omitempty"`

	// Wait blocks the request until the run finishes.
	Wait bool `json:"wait,omitempty"`
}

// RunResponse describes a started or finished run.
type RunResponse struct {
	RunID   string          `json:"run_id"`
	GraphID string          `json:"graph_id,omitempty"`
	Status  string          `json:"status"`
	Results core.NodeOutput `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var errNoGraph = errors.New("request carries neither graph nor source")

// parseGraph decodes the request's graph document.
func (req RunRequest) parseGraph() (*graph.Graph, error) {
	switch {
	case req.Source != "":
		format := loader.DetectFormat("", []byte(req.Source))
		if req.Format != "" {
			f, err := loader.ParseFormat(req.Format)
			if err != nil {
				return nil, err
			}
			format = f
		}
		return loader.Parse([]byte(req.Source), format, "request")
	case len(req.Graph) > 0 && string(req.Graph) != "null":
		return loader.Parse(req.Graph, loader.FormatJSON, "request")
	default:
		return nil, errNoGraph
	}
}

// options builds the run options for req from the server's template.
func (s *Server) options(req RunRequest) runtime.RunOptions {
	opts := s.runOptions
	opts.RunID = strings.TrimSpace(req.RunID)
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	opts.StartNodeID = req.Start
	opts.InitialData = req.Input
	opts.Metadata = map[string]any{"trigger": "http"}
	if s.bus != nil {
		opts.EventBus = s.bus
	}
	return opts
}

// execute runs g to completion and reports the outcome.
func (s *Server) execute(ctx context.Context, g *graph.Graph, opts runtime.RunOptions) (RunResponse, error) {
	resp := RunResponse{RunID: opts.RunID, GraphID: g.ID, Status: StatusCompleted}
	s.logger.Info("run started", "run_id", opts.RunID, "graph", g.ID)
	results, err := s.engine.Run(ctx, g, opts)
	if err != nil {
		s.logger.Warn("run failed", "run_id", opts.RunID, "error", err)
		resp.Status = StatusFailed
		resp.Error = err.Error()
		return resp, err
	}
	s.logger.Info("run finished", "run_id", opts.RunID, "results", len(results))
	resp.Results = results
	return resp, nil
}

// startBackground runs g detached from the request. The run is tracked until
// it returns so it can be canceled.
func (s *Server) startBackground(g *graph.Graph, opts runtime.RunOptions) error {
	ctx, cancel := context.WithCancel(s.baseCtx)
	if !s.markRunActive(opts.RunID, cancel) {
		cancel()
		return fmt.Errorf("run %s is already active", opts.RunID)
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.markRunInactive(opts.RunID)
		defer cancel()
		_, _ = s.execute(ctx, g, opts)
	}()
	return nil
}

func (s *Server) markRunActive(runID string, cancel context.CancelFunc) bool {
	s.activeRunsMu.Lock()
	defer s.activeRunsMu.Unlock()
	if _, dup := s.activeRuns[runID]; dup {
		return false
	}
	s.activeRuns[runID] = cancel
	return true
}

func (s *Server) markRunInactive(runID string) {
	s.activeRunsMu.Lock()
	delete(s.activeRuns, runID)
	s.activeRunsMu.Unlock()
}

func (s *Server) isRunActive(runID string) bool {
	s.activeRunsMu.RLock()
	_, ok := s.activeRuns[runID]
	s.activeRunsMu.RUnlock()
	return ok
}

func (s *Server) cancelRun(runID string) bool {
	s.activeRunsMu.RLock()
	cancel, ok := s.activeRuns[runID]
	s.activeRunsMu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}
