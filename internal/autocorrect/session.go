package autocorrect

import (
	"time"

	"smartplanning/internal/planning"
	"smartplanning/internal/snapshot"
)

// State is a step of the correction loop.
type State string

const (
	StateLoading        State = "loading"
	StateValidating     State = "validating"
	StateExtracting     State = "extracting"
	StateGenerating     State = "generating"
	StateSchemaChecking State = "schema_checking"
	StateApplying       State = "applying"
	StateUploading      State = "uploading"
	StateFinished       State = "finished"
)

// Status is the terminal outcome of a run.
type Status string

const (
	StatusDone                       Status = "done"
	StatusMaxIterationsReached       Status = "max_iterations_reached"
	StatusManualInterventionRequired Status = "manual_intervention_required"
	StatusAborted                    Status = "aborted"

	// Single-step pipelines and tool steps.
	StatusAnalyzed  Status = "analyzed"
	StatusApplied   Status = "applied"
	StatusCompleted Status = "completed"
)

// ExitCode maps a status to the CLI convention: 0 success, 2 partial, 1 failure.
func (s Status) ExitCode() int {
	switch s {
	case StatusDone, StatusAnalyzed, StatusCompleted:
		return 0
	case StatusMaxIterationsReached, StatusManualInterventionRequired, StatusApplied:
		return 2
	default:
		return 1
	}
}

// Session is the state one run threads through its steps.
type Session struct {
	RunID      string
	SnapshotID string
	Info       planning.SnapshotInfo
	Document   *snapshot.Document
	Validation snapshot.Messages

	// Iteration is the last iteration this run wrote, or the latest stored one
	// before the first pass.
	Iteration   int
	Iterations  int
	Corrections int

	// Parked holds errors routed to manual intervention; they are not retried.
	Parked    []snapshot.Message
	Reference bool
	state     State
}

func (s *Session) parked(m snapshot.Message) bool {
	for _, p := range s.Parked {
		if p == m {
			return true
		}
	}
	return false
}

// Result is what a run reports to its caller.
type Result struct {
	RunID               string             `json:"run_id"`
	SnapshotID          string             `json:"snapshot_id"`
	Status              Status             `json:"status"`
	Reason              string             `json:"reason,omitempty"`
	Iterations          int                `json:"iterations"`
	Corrections         int                `json:"corrections"`
	ManualInterventions []snapshot.Message `json:"manual_interventions,omitempty"`
	Remaining           snapshot.Messages  `json:"remaining_errors,omitempty"`
	ReferenceDataUsed   bool               `json:"reference_data_used,omitempty"`
	StartedAt           time.Time          `json:"started_at"`
	FinishedAt          time.Time          `json:"finished_at"`
}

func (r Result) ExitCode() int { return r.Status.ExitCode() }
