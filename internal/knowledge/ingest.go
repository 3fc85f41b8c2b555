package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smartplanning/internal/safeio"
)

// DefaultExtensions are the file types IngestDir reads.
var DefaultExtensions = []string{".md", ".txt"}

// IngestReport summarises one IngestDir call.
type IngestReport struct {
	Files   int      `json:"files"`
	Chunks  int      `json:"chunks"`
	Skipped []string `json:"skipped,omitempty"`
}

// IngestDir indexes every matching file below root. Files are read in
// parallel and written one at a time. A form feed splits a file into pages.
func (x *Index) IngestDir(ctx context.Context, root string, exts ...string) (IngestReport, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := map[string]struct{}{}
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[strings.ToLower(e)] = struct{}{}
	}

	var report IngestReport
	base, err := safeio.Open(root)
	if err != nil {
		return report, fmt.Errorf("open %s: %w", root, err)
	}
	dir := base.Dir()

	var paths []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); p != dir && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := allowed[strings.ToLower(filepath.Ext(p))]; ok {
			paths = append(paths, p)
		} else {
			report.Skipped = append(report.Skipped, base.Rel(p))
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)

	// Files that resolve outside the root through a symlink stay unread.
	docs := make([]Document, len(paths))
	escaped := make([]bool, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, err := base.ReadFile(p)
			if errors.Is(err, safeio.ErrOutsideRoot) {
				escaped[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			docs[i] = Document{
				Title:  strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)),
				Source: base.Rel(p),
				Pages:  strings.Split(string(raw), "\f"),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for i, doc := range docs {
		if escaped[i] {
			report.Skipped = append(report.Skipped, base.Rel(paths[i]))
			continue
		}
		n, err := x.Add(ctx, doc)
		if err != nil {
			return report, err
		}
		report.Files++
		report.Chunks += n
	}
	x.log.Info("knowledge ingest finished",
		zap.String("root", root),
		zap.Int("files", report.Files),
		zap.Int("chunks", report.Chunks),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}
