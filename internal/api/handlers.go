package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/loomengine/loom/internal/engine"
)

// EngineSource resolves the currently playing session's engine, if any.
// cmd/loom binds this to whichever *engine.Engine it currently has in
// memory; the handler treats a nil engine as "no active session" rather
// than an error.
type EngineSource interface {
	ActiveEngine() *engine.Engine
}

// Handler implements the debug HTTP surface: liveness and stats only, no
// narrative endpoints.
type Handler struct {
	engines   EngineSource
	version   string
	startedAt time.Time
}

// NewHandler builds a Handler reporting on whatever session engines
// currently surfaces as active.
func NewHandler(engines EngineSource, version string) *Handler {
	return &Handler{engines: engines, version: version, startedAt: time.Now()}
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	UptimeSec int64  `json:"uptime_seconds"`
}

// Healthz reports liveness. It never depends on an active session, so it
// always returns 200 as long as the process is up.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   h.version,
		UptimeSec: int64(time.Since(h.startedAt).Seconds()),
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats reports the active session's size: turn counter, tree node count,
// undo/redo depth, and the memory bank / plot card vector store stats.
// Returns 404 Problem Details if no session is currently active.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	eng := h.engines.ActiveEngine()
	if eng == nil {
		WriteProblem(w, r, http.StatusNotFound, "no active session")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := eng.Stats(ctx)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "failed to gather session stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
