package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	artifactrepo "smartplanning/internal/repository/artifact"
)

// DiskStore keeps workspace files under root/<snapshotID>/<path>.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: strings.TrimSpace(root)}
}

func (s *DiskStore) Root() string { return s.root }

func (s *DiskStore) Put(_ context.Context, snapshotID, path string, content []byte) error {
	fullPath, err := s.pathFor(snapshotID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fullPath)
}

func (s *DiskStore) Get(_ context.Context, snapshotID, path string) ([]byte, error) {
	fullPath, err := s.pathFor(snapshotID, path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, artifactrepo.ErrNotFound
	}
	return raw, err
}

// GetURL returns a file:// location, the closest thing a local disk has to a link.
func (s *DiskStore) GetURL(_ context.Context, snapshotID, path string) (string, error) {
	fullPath, err := s.pathFor(snapshotID, path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (s *DiskStore) List(_ context.Context, snapshotID string) ([]string, error) {
	snapRoot, err := s.snapshotRoot(snapshotID)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, 32)
	walkErr := filepath.WalkDir(snapRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(snapRoot, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, walkErr
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *DiskStore) snapshotRoot(snapshotID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	if s.root == "" {
		return "", fmt.Errorf("root is required")
	}
	snapshotID = strings.TrimSpace(snapshotID)
	if snapshotID == "" {
		return "", fmt.Errorf("snapshot_id is required")
	}
	if strings.Contains(snapshotID, "..") || strings.ContainsAny(snapshotID, `/\`) {
		return "", fmt.Errorf("invalid snapshot_id: %s", snapshotID)
	}
	return filepath.Join(s.root, snapshotID), nil
}

func (s *DiskStore) pathFor(snapshotID, path string) (string, error) {
	snapRoot, err := s.snapshotRoot(snapshotID)
	if err != nil {
		return "", err
	}
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(path, "..") || filepath.IsAbs(path) {
		return "", fmt.Errorf("invalid path: %s", path)
	}
	return filepath.Join(snapRoot, filepath.FromSlash(path)), nil
}
