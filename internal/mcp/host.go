package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"smartplanning/internal/audit"
	"smartplanning/internal/autocorrect"
	"smartplanning/internal/knowledge"
	"smartplanning/internal/planning"
	"smartplanning/internal/workspace"
)

const (
	ToolCreateSnapshot     = "create_snapshot"
	ToolListSnapshots      = "list_snapshots"
	ToolRenameSnapshot     = "rename_snapshot"
	ToolDeleteSnapshot     = "delete_snapshot"
	ToolDownloadSnapshot   = "download_snapshot"
	ToolValidateSnapshot   = "validate_snapshot"
	ToolIdentifyError      = "identify_error"
	ToolGenerateCorrection = "generate_correction"
	ToolCheckCorrection    = "check_correction_schema"
	ToolApplyCorrection    = "apply_correction"
	ToolUpdateSnapshot     = "update_snapshot"
	ToolCorrectSnapshot    = "correct_snapshot"
	ToolAuditReport        = "generate_audit_report"
	ToolKnowledgeSearch    = "knowledge_search"
)

// Snapshots is the part of the planning client the snapshot tools use.
type Snapshots interface {
	CreateSnapshot(ctx context.Context, opts planning.CreateOptions) (planning.SnapshotInfo, error)
	ListSnapshots(ctx context.Context) ([]planning.SnapshotInfo, error)
	RenameSnapshot(ctx context.Context, id, name string) (planning.SnapshotInfo, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Host wires the planning service, the correction engine and the knowledge
// index into tools. Tools whose collaborator is nil are not registered.
type Host struct {
	Snapshots Snapshots
	Engine    *autocorrect.Engine
	Workspace *workspace.Accessor
	Reporter  *audit.Reporter
	Knowledge *knowledge.Index
}

// RegisterDefaultTools installs the default tool set into a registry.
func RegisterDefaultTools(r *Registry, h Host) {
	if r == nil {
		return
	}
	if h.Snapshots != nil {
		r.Register(newCreateSnapshotTool(h))
		r.Register(newListSnapshotsTool(h))
		r.Register(newRenameSnapshotTool(h))
		r.Register(newDeleteSnapshotTool(h))
	}
	if h.Engine != nil {
		for _, d := range stepTools {
			r.Register(newStepTool(h, d))
		}
		r.Register(newCorrectSnapshotTool(h))
	}
	if h.Reporter != nil {
		r.Register(newAuditReportTool(h))
	}
	if h.Knowledge != nil {
		r.Register(newKnowledgeSearchTool(h))
	}
}

// snapshotRef is the input shared by tools that act on one snapshot.
// Identifier accepts a snapshot id or an exact snapshot name.
type snapshotRef struct {
	SnapshotID string `json:"snapshot_id"`
	Identifier string `json:"identifier,omitempty"`
}

func decode(tool string, input json.RawMessage, out any) error {
	if err := json.Unmarshal(input, out); err != nil {
		return &ToolError{Tool: tool, Reason: fmt.Sprintf("invalid input: %v", err)}
	}
	return nil
}

// resolveID returns the snapshot id ref points at. Names are looked up in
// the snapshot list when a planning client is wired.
func (h Host) resolveID(ctx context.Context, tool string, ref snapshotRef) (string, error) {
	key := strings.TrimSpace(ref.SnapshotID)
	if key == "" {
		key = strings.TrimSpace(ref.Identifier)
	}
	if key == "" {
		return "", &ToolError{Tool: tool, Reason: "snapshot_id is required"}
	}
	if _, err := uuid.Parse(key); err == nil || h.Snapshots == nil {
		return key, nil
	}
	list, err := h.Snapshots.ListSnapshots(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", tool, err)
	}
	for _, s := range list {
		if s.ID == key || s.Name == key {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("%s: %w: no snapshot named %q", tool, planning.ErrNotFound, key)
}
