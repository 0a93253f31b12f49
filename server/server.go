// Package server exposes the SignalFlow engine over HTTP: start runs from a
// posted graph, list and cancel them, and stream their events.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/core"
	"github.com/petal-labs/signalflow/runtime"
	"github.com/petal-labs/signalflow/sse"
)

// Config configures a Server.
type Config struct {
	Engine      *runtime.Engine
	Definitions []core.Definition
	Bus         bus.EventBus
	EventStore  bus.EventStore

	// RunOptions is the template for every run. RunID, StartNodeID,
	// InitialData and Metadata are filled per request.
	RunOptions runtime.RunOptions

	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the SignalFlow HTTP API server.
type Server struct {
	engine      *runtime.Engine
	definitions []core.Definition
	bus         bus.EventBus
	eventStore  bus.EventStore
	runOptions  runtime.RunOptions
	corsOrigin  string
	maxBody     int64
	logger      *slog.Logger

	// Background runs outlive their request; they are canceled through
	// baseCancel on Shutdown.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	inflight   sync.WaitGroup

	activeRunsMu sync.RWMutex
	activeRuns   map[string]context.CancelFunc
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	store := cfg.EventStore
	if store == nil {
		store = bus.NewMemEventStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine:      cfg.Engine,
		definitions: cfg.Definitions,
		bus:         cfg.Bus,
		eventStore:  store,
		runOptions:  cfg.RunOptions,
		corsOrigin:  corsOrigin,
		maxBody:     maxBody,
		logger:      logger,
		baseCtx:     ctx,
		baseCancel:  cancel,
		activeRuns:  make(map[string]context.CancelFunc),
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)
	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/node-types", s.handleNodeTypes)
	mux.HandleFunc("POST /api/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("DELETE /api/runs/{run_id}", s.handleDeleteRun)
	mux.HandleFunc("POST /api/runs/{run_id}/cancel", s.handleCancelRun)
	mux.Handle("GET /api/runs/{run_id}/events", sse.NewHandler(s.eventStore, s.bus))
}

// Shutdown cancels background runs and waits for them to finish or for ctx
// to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.baseCancel()
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the error envelope every endpoint uses.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: message}})
}
