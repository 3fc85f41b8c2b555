package safeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrOutsideRoot is returned for paths that leave the root, directly or
// through a symlink.
var ErrOutsideRoot = errors.New("safeio: path outside root")

// Root confines reads to one directory tree.
type Root struct {
	abs string // absolute root with symlinks resolved
}

// Open binds a Root to dir. The directory must exist.
func Open(dir string) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("safeio: %s is not a directory", dir)
	}
	return &Root{abs: abs}, nil
}

// Dir returns the resolved root directory.
func (r *Root) Dir() string { return r.abs }

// ReadFile reads a regular file given relative to the root or as an absolute
// path below it.
func (r *Root) ReadFile(path string) ([]byte, error) {
	p, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("safeio: %s is not a regular file", path)
	}
	return os.ReadFile(p)
}

// Rel returns path relative to the root in slash form.
func (r *Root) Rel(path string) string {
	rel, err := filepath.Rel(r.abs, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}

// Resolve returns the symlink-free absolute form of path, or ErrOutsideRoot.
func (r *Root) Resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("safeio: empty path")
	}
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) {
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
		}
		clean = filepath.Join(r.abs, clean)
	}
	resolved, err := filepath.EvalSymlinks(clean)
	if err != nil {
		return "", err
	}
	if !within(resolved, r.abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return resolved, nil
}

func within(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
