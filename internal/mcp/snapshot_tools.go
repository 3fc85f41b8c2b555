package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"smartplanning/internal/planning"
)

// --------------------- create_snapshot ---------------------

type createSnapshotTool struct{ host Host }

func newCreateSnapshotTool(h Host) *createSnapshotTool { return &createSnapshotTool{host: h} }

func (t *createSnapshotTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        ToolCreateSnapshot,
		Description: "Create a new snapshot on the planning server from live data. Name and comment are optional.",
		InputSchema: json.RawMessage(`{"name":"string","comment":"string","copy_from":"string"}`),
	}
}

type createSnapshotInput struct {
	Name     string `json:"name"`
	Comment  string `json:"comment"`
	CopyFrom string `json:"copy_from"`
}

func (t *createSnapshotTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in createSnapshotInput
	if err := decode(ToolCreateSnapshot, input, &in); err != nil {
		return nil, err
	}
	info, err := t.host.Snapshots.CreateSnapshot(ctx, planning.CreateOptions{Name: in.Name, Comment: in.Comment, CopyFrom: in.CopyFrom})
	if err != nil {
		return nil, err
	}
	return json.Marshal(info)
}

// --------------------- list_snapshots ---------------------

type listSnapshotsTool struct{ host Host }

func newListSnapshotsTool(h Host) *listSnapshotsTool { return &listSnapshotsTool{host: h} }

func (t *listSnapshotsTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        ToolListSnapshots,
		Description: "List the snapshots on the planning server, optionally filtered by a name fragment.",
		InputSchema: json.RawMessage(`{"filter":"string"}`),
	}
}

func (t *listSnapshotsTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Filter string `json:"filter"`
	}
	if err := decode(ToolListSnapshots, input, &in); err != nil {
		return nil, err
	}
	list, err := t.host.Snapshots.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	filter := strings.ToLower(strings.TrimSpace(in.Filter))
	out := make([]planning.SnapshotInfo, 0, len(list))
	for _, s := range list {
		if filter == "" || strings.Contains(strings.ToLower(s.Name), filter) {
			out = append(out, s)
		}
	}
	return json.Marshal(map[string]any{"snapshots": out})
}

// --------------------- rename_snapshot ---------------------

type renameSnapshotTool struct{ host Host }

func newRenameSnapshotTool(h Host) *renameSnapshotTool { return &renameSnapshotTool{host: h} }

func (t *renameSnapshotTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        ToolRenameSnapshot,
		Description: "Rename a snapshot. Only when the user explicitly asks to rename it.",
		InputSchema: json.RawMessage(`{"snapshot_id":"string","new_name":"string"}`),
	}
}

func (t *renameSnapshotTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in struct {
		snapshotRef
		NewName string `json:"new_name"`
	}
	if err := decode(ToolRenameSnapshot, input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.NewName) == "" {
		return nil, &ToolError{Tool: ToolRenameSnapshot, Reason: "new_name is required"}
	}
	id, err := t.host.resolveID(ctx, ToolRenameSnapshot, in.snapshotRef)
	if err != nil {
		return nil, err
	}
	info, err := t.host.Snapshots.RenameSnapshot(ctx, id, strings.TrimSpace(in.NewName))
	if err != nil {
		return nil, err
	}
	return json.Marshal(info)
}

// --------------------- delete_snapshot ---------------------

type deleteSnapshotTool struct{ host Host }

func newDeleteSnapshotTool(h Host) *deleteSnapshotTool { return &deleteSnapshotTool{host: h} }

func (t *deleteSnapshotTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        ToolDeleteSnapshot,
		Description: "Delete a snapshot on the planning server. Irreversible; only on an explicit request.",
		InputSchema: json.RawMessage(`{"snapshot_id":"string"}`),
	}
}

func (t *deleteSnapshotTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in snapshotRef
	if err := decode(ToolDeleteSnapshot, input, &in); err != nil {
		return nil, err
	}
	id, err := t.host.resolveID(ctx, ToolDeleteSnapshot, in)
	if err != nil {
		return nil, err
	}
	if err := t.host.Snapshots.DeleteSnapshot(ctx, id); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"snapshot_id": id, "deleted": true})
}
