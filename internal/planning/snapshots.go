package planning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartplanning/internal/snapshot"
)

// SnapshotInfo is the metadata the service returns for a snapshot.
type SnapshotInfo struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Comment                 string `json:"comment,omitempty"`
	IsSuccessfullyValidated *bool  `json:"isSuccessfullyValidated,omitempty"`
	DataModifiedAt          string `json:"dataModifiedAt,omitempty"`
	DataModifiedBy          string `json:"dataModifiedBy,omitempty"`
	ParentID                string `json:"parentId,omitempty"`
	NrOfChildren            int    `json:"nrOfChildren,omitempty"`
}

type Snapshot struct {
	SnapshotInfo
	Document *snapshot.Document
}

type CreateOptions struct {
	Name     string
	Comment  string
	CopyFrom string
	// SkipCrawler creates an empty snapshot instead of crawling live data.
	SkipCrawler bool
}

func (c *Client) CreateSnapshot(ctx context.Context, opts CreateOptions) (SnapshotInfo, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "AutoFix_" + time.Now().Format("20060102_150405")
	}
	comment := opts.Comment
	if comment == "" {
		comment = "Auto-generated snapshot for validation"
	}
	q := url.Values{}
	q.Set("runCrawler", fmt.Sprint(!opts.SkipCrawler))
	if opts.CopyFrom != "" {
		q.Set("copyFrom", opts.CopyFrom)
	}
	var info SnapshotInfo
	err := c.do(ctx, http.MethodPost, "/snapshots", q, map[string]string{"name": name, "comment": comment}, &info)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("create snapshot: %w", err)
	}
	c.log.Info("snapshot created", zap.String("snapshot_id", info.ID), zap.String("name", info.Name))
	return info, nil
}

func (c *Client) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/snapshots", nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var out []SnapshotInfo
	if err := decodeList(raw, &out, "content", "elements", "snapshots", "items", "data"); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return out, nil
}

func (c *Client) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("snapshot id is required")
	}
	var body struct {
		SnapshotInfo
		DataJSON json.RawMessage `json:"dataJson"`
	}
	if err := c.do(ctx, http.MethodGet, "/snapshots/"+url.PathEscape(id), nil, nil, &body); err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	doc, err := decodeDataJSON(body.DataJSON)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return &Snapshot{SnapshotInfo: body.SnapshotInfo, Document: doc}, nil
}

// FindSnapshot accepts either a snapshot UUID or an exact snapshot name.
func (c *Client) FindSnapshot(ctx context.Context, nameOrID string) (*Snapshot, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if _, err := uuid.Parse(nameOrID); err == nil {
		return c.GetSnapshot(ctx, nameOrID)
	}
	list, err := c.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range list {
		if s.Name == nameOrID {
			return c.GetSnapshot(ctx, s.ID)
		}
	}
	return nil, fmt.Errorf("%w: no snapshot named %q", ErrNotFound, nameOrID)
}

// UpdateSnapshot replaces the whole document. The service requires a name on every update.
func (c *Client) UpdateSnapshot(ctx context.Context, id, name string, doc *snapshot.Document, comment string) (SnapshotInfo, error) {
	if strings.TrimSpace(name) == "" {
		cur, err := c.GetSnapshot(ctx, id)
		if err != nil {
			return SnapshotInfo{}, err
		}
		name = cur.Name
		if name == "" {
			name = "Updated Snapshot"
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("encode snapshot: %w", err)
	}
	body := map[string]string{"name": name, "dataJson": string(data)}
	if comment != "" {
		body["comment"] = comment
	}
	var info SnapshotInfo
	if err := c.do(ctx, http.MethodPut, "/snapshots/"+url.PathEscape(id), nil, body, &info); err != nil {
		return SnapshotInfo{}, fmt.Errorf("update snapshot %s: %w", id, err)
	}
	c.log.Info("snapshot updated", zap.String("snapshot_id", id))
	return info, nil
}

func (c *Client) RenameSnapshot(ctx context.Context, id, name string) (SnapshotInfo, error) {
	if strings.TrimSpace(name) == "" {
		return SnapshotInfo{}, fmt.Errorf("new name is required")
	}
	cur, err := c.GetSnapshot(ctx, id)
	if err != nil {
		return SnapshotInfo{}, err
	}
	return c.UpdateSnapshot(ctx, id, name, cur.Document, cur.Comment)
}

func (c *Client) DeleteSnapshot(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/snapshots/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	c.log.Info("snapshot deleted", zap.String("snapshot_id", id))
	return nil
}

type Status string

const (
	StatusOK                      Status = "ok"
	StatusBusinessValidationError Status = "business_validation_error"
)

type Validation struct {
	Status   Status            `json:"status"`
	Messages snapshot.Messages `json:"messages"`
}

// Validate fetches the current validation messages. A 400/422 answer that carries
// a message list is the service's way of reporting business errors, not a failure.
func (c *Client) Validate(ctx context.Context, id string) (Validation, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/snapshots/"+url.PathEscape(id)+"/validation-messages", nil, nil, &raw)
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || (apiErr.Status != http.StatusBadRequest && apiErr.Status != http.StatusUnprocessableEntity) {
			return Validation{}, fmt.Errorf("validate snapshot %s: %w", id, err)
		}
		raw = json.RawMessage(apiErr.Body)
	}
	var msgs snapshot.Messages
	if err := decodeList(raw, &msgs, "elements", "messages", "content"); err != nil {
		return Validation{}, fmt.Errorf("validate snapshot %s: %w", id, err)
	}
	v := Validation{Status: StatusOK, Messages: msgs}
	if msgs.HasErrors() {
		v.Status = StatusBusinessValidationError
	}
	c.log.Info("snapshot validated", zap.String("snapshot_id", id),
		zap.Int("errors", msgs.Count(snapshot.LevelError)), zap.Int("warnings", msgs.Count(snapshot.LevelWarning)))
	return v, nil
}

// decodeList accepts a bare array or an object wrapping it under one of keys.
func decodeList(raw json.RawMessage, out any, keys ...string) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(raw, out)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	for _, k := range keys {
		if v, ok := obj[k]; ok && strings.HasPrefix(strings.TrimSpace(string(v)), "[") {
			return json.Unmarshal(v, out)
		}
	}
	return nil
}

// decodeDataJSON handles dataJson sent either as an encoded string or inline.
func decodeDataJSON(raw json.RawMessage) (*snapshot.Document, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return snapshot.New(nil), nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode dataJson: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return snapshot.New(nil), nil
		}
		return snapshot.Parse([]byte(s))
	}
	return snapshot.Parse(raw)
}
