package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/petal-labs/signalflow/bus"
	"github.com/petal-labs/signalflow/runtime"
)

// RunSummary is one entry of GET /api/runs.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Events    int       `json:"events"`
	LatestSeq uint64    `json:"latest_seq"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Active    bool      `json:"active"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNodeTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.definitions)
}

// handleStartRun starts a run in the background, or synchronously when the
// request sets wait.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	g, err := req.parseGraph()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_GRAPH", err.Error())
		return
	}
	opts := s.options(req)

	if !req.Wait {
		if err := s.startBackground(g, opts); err != nil {
			writeError(w, http.StatusConflict, "RUN_ACTIVE", err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, RunResponse{RunID: opts.RunID, GraphID: g.ID, Status: StatusRunning})
		return
	}

	resp, err := s.execute(r.Context(), g, opts)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case runtime.IsGraphError(err):
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.eventStore.Runs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunSummary{
			RunID:     run.RunID,
			Events:    run.Events,
			LatestSeq: run.LatestSeq,
			StartedAt: run.Started.UTC(),
			UpdatedAt: run.Updated.UTC(),
			Active:    s.isRunActive(run.RunID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if !s.cancelRun(runID) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "run "+runID+" is not active")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "canceling"})
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if s.isRunActive(runID) {
		writeError(w, http.StatusConflict, "RUN_ACTIVE", "run "+runID+" is still active")
		return
	}
	if err := s.eventStore.Delete(r.Context(), runID); err != nil {
		if errors.Is(err, bus.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
