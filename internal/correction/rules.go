package correction

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

//go:embed default_rules.md
var defaultRules string

// DefaultRules returns the built-in fix rules document.
func DefaultRules() string { return defaultRules }

// Rules holds the fix rules document handed to the generator. It is safe for
// concurrent use; Watch swaps the text when the file changes.
type Rules struct {
	mu   sync.RWMutex
	text string
	path string
	log  *zap.Logger
}

// LoadRules reads path, or returns the built-in rules when path is empty.
func LoadRules(path string, log *zap.Logger) (*Rules, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Rules{text: defaultRules, path: path, log: log}
	if path == "" {
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// StaticRules wraps a fixed text.
func StaticRules(text string) *Rules {
	return &Rules{text: text, log: zap.NewNop()}
}

func (r *Rules) Text() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.text
}

func (r *Rules) reload() error {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read fix rules: %w", err)
	}
	r.mu.Lock()
	r.text = string(b)
	r.mu.Unlock()
	return nil
}

// Watch reloads the rules whenever the file is written, until ctx ends.
// The directory is watched so editors that replace the file are seen.
func (r *Rules) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch fix rules: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch fix rules: %w", err)
	}
	go r.run(ctx, w)
	return nil
}

func (r *Rules) run(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	target := filepath.Clean(r.path)
	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			if err := r.reload(); err != nil {
				r.log.Warn("fix rules reload failed", zap.String("path", r.path), zap.Error(err))
				continue
			}
			r.log.Info("fix rules reloaded", zap.String("path", r.path))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.log.Warn("fix rules watcher error", zap.Error(err))
		}
	}
}
