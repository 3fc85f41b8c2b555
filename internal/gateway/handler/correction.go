package handler

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"smartplanning/internal/gateway/run"
)

// CorrectionHandler starts background correction runs and reports on them.
type CorrectionHandler struct {
	runs *run.Service
	log  *zap.Logger
}

func NewCorrectionHandler(runs *run.Service, log *zap.Logger) *CorrectionHandler {
	return &CorrectionHandler{runs: runs, log: orNop(log)}
}

type correctRequest struct {
	MaxIterations int `json:"max_iterations"`
}

// HandleCorrect answers POST /api/snapshots/{id}/correct with 202 and the
// run record, or 409 when the snapshot is already being corrected.
func (h *CorrectionHandler) HandleCorrect(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var in correctRequest
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	if in.MaxIterations < 0 {
		writeError(w, http.StatusBadRequest, "invalid_argument", "max_iterations must not be negative")
		return
	}
	rec, err := h.runs.Start(id, in.MaxIterations)
	var busy *run.BusyError
	switch {
	case errors.As(err, &busy):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  busy.Error(),
			"code":   "already_running",
			"run_id": busy.RunID,
		})
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// HandleRuns answers GET /api/snapshots/{id}/runs, or a single run when
// run_id is given.
func (h *CorrectionHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if runID := queryParam(r, "run_id"); runID != "" {
		rec, err := h.runs.Get(runID)
		if err != nil || rec.SnapshotID != id {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_id": id,
		"runs":        h.runs.Runs(id),
	})
}
