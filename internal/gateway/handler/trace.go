package handler

import (
	"context"
	"net/http"

	"smartplanning/internal/audit"
)

// TraceReader reads the persisted trace of a run.
type TraceReader interface {
	Read(ctx context.Context, snapshotID, runID string) ([]audit.TraceEvent, error)
}

type TraceHandler struct {
	trace TraceReader
}

func NewTraceHandler(trace TraceReader) *TraceHandler {
	return &TraceHandler{trace: trace}
}

// HandleRunLogs answers GET /debug/run-logs?snapshot_id=&run_id=. Without
// run_id every trace event of the snapshot is returned.
func (h *TraceHandler) HandleRunLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshotID := queryParam(r, "snapshot_id")
	if snapshotID == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "snapshot_id is required")
		return
	}
	runID := queryParam(r, "run_id")
	events, err := h.trace.Read(r.Context(), snapshotID, runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if events == nil {
		events = []audit.TraceEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_id": snapshotID,
		"run_id":      runID,
		"events":      events,
	})
}
