package mcp

import (
	"context"
	"encoding/json"
)

// --------------------- generate_audit_report ---------------------

type auditReportTool struct{ host Host }

func newAuditReportTool(h Host) *auditReportTool { return &auditReportTool{host: h} }

func (t *auditReportTool) Spec() ToolSpec {
	return ToolSpec{
		Name:         ToolAuditReport,
		Description:  "Write the audit report of the correction runs recorded for a snapshot.",
		InputSchema:  json.RawMessage(`{"snapshot_id":"string"}`),
		OutputSchema: json.RawMessage(`{"snapshot_id":"string","report_file":"string","generator":"string"}`),
	}
}

func (t *auditReportTool) Call(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in snapshotRef
	if err := decode(ToolAuditReport, input, &in); err != nil {
		return nil, err
	}
	id, err := t.host.resolveID(ctx, ToolAuditReport, in)
	if err != nil {
		return nil, err
	}
	stats, err := t.host.Reporter.Generate(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stats)
}
