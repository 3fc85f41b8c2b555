package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists the files of one snapshot workspace, addressed by snapshot ID and relative path.
type Store interface {
	Put(ctx context.Context, snapshotID, path string, content []byte) error
	Get(ctx context.Context, snapshotID, path string) ([]byte, error)
	GetURL(ctx context.Context, snapshotID, path string) (string, error)
	List(ctx context.Context, snapshotID string) ([]string, error)
}

var ErrNotFound = errors.New("artifact not found")

func normalize(snapshotID, path string) (string, string, error) {
	snapshotID = strings.TrimSpace(snapshotID)
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if snapshotID == "" {
		return "", "", fmt.Errorf("snapshot_id is required")
	}
	if path == "" {
		return "", "", fmt.Errorf("path is required")
	}
	return snapshotID, path, nil
}

func normalizeID(snapshotID string) (string, error) {
	snapshotID = strings.TrimSpace(snapshotID)
	if snapshotID == "" {
		return "", fmt.Errorf("snapshot_id is required")
	}
	return snapshotID, nil
}
