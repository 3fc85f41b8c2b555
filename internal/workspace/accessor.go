package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	artifactrepo "smartplanning/internal/repository/artifact"
	"smartplanning/internal/snapshot"
)

var ErrNotFound = artifactrepo.ErrNotFound

// Accessor maps a snapshot's logical files onto an artifact store.
// It is safe for concurrent use across different snapshots.
type Accessor struct {
	store artifactrepo.Store
	log   *zap.Logger

	mu       sync.Mutex
	reserved map[string]int
}

func New(store artifactrepo.Store, log *zap.Logger) *Accessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Accessor{store: store, log: log, reserved: map[string]int{}}
}

func (a *Accessor) Store() artifactrepo.Store { return a.store }

func (a *Accessor) SaveBytes(ctx context.Context, snapshotID, path string, content []byte) error {
	if err := a.store.Put(ctx, snapshotID, path, content); err != nil {
		return fmt.Errorf("save %s/%s: %w", snapshotID, path, err)
	}
	return nil
}

func (a *Accessor) LoadBytes(ctx context.Context, snapshotID, path string) ([]byte, error) {
	raw, err := a.store.Get(ctx, snapshotID, path)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", snapshotID, path, err)
	}
	return raw, nil
}

func (a *Accessor) SaveJSON(ctx context.Context, snapshotID, path string, v any) error {
	raw, err := snapshot.EncodeJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return a.SaveBytes(ctx, snapshotID, path, raw)
}

func (a *Accessor) LoadJSON(ctx context.Context, snapshotID, path string, out any) error {
	raw, err := a.LoadBytes(ctx, snapshotID, path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", snapshotID, path, err)
	}
	return nil
}

func (a *Accessor) SaveDocument(ctx context.Context, snapshotID, path string, doc *snapshot.Document) error {
	raw, err := doc.Bytes()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return a.SaveBytes(ctx, snapshotID, path, raw)
}

func (a *Accessor) LoadDocument(ctx context.Context, snapshotID, path string) (*snapshot.Document, error) {
	raw, err := a.LoadBytes(ctx, snapshotID, path)
	if err != nil {
		return nil, err
	}
	return snapshot.Parse(raw)
}

func (a *Accessor) SaveMessages(ctx context.Context, snapshotID, path string, msgs snapshot.Messages) error {
	if msgs == nil {
		msgs = snapshot.Messages{}
	}
	return a.SaveJSON(ctx, snapshotID, path, msgs)
}

func (a *Accessor) LoadMessages(ctx context.Context, snapshotID, path string) (snapshot.Messages, error) {
	var msgs snapshot.Messages
	if err := a.LoadJSON(ctx, snapshotID, path, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// AppendText adds text to the end of a file, creating it when absent.
// Writers of the same snapshot are serialised by the caller.
func (a *Accessor) AppendText(ctx context.Context, snapshotID, path, text string) error {
	cur, err := a.store.Get(ctx, snapshotID, path)
	if err != nil && !errors.Is(err, artifactrepo.ErrNotFound) {
		return fmt.Errorf("append %s/%s: %w", snapshotID, path, err)
	}
	buf := make([]byte, 0, len(cur)+len(text))
	buf = append(buf, cur...)
	buf = append(buf, text...)
	return a.SaveBytes(ctx, snapshotID, path, buf)
}

func (a *Accessor) Exists(ctx context.Context, snapshotID, path string) (bool, error) {
	_, err := a.store.Get(ctx, snapshotID, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, artifactrepo.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (a *Accessor) List(ctx context.Context, snapshotID string) ([]string, error) {
	return a.store.List(ctx, snapshotID)
}

func (a *Accessor) URL(ctx context.Context, snapshotID, path string) (string, error) {
	return a.store.GetURL(ctx, snapshotID, path)
}

// Iterations lists the iteration numbers that have at least one file, ascending.
func (a *Accessor) Iterations(ctx context.Context, snapshotID string) ([]int, error) {
	paths, err := a.store.List(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	for _, p := range paths {
		if n := parseIteration(p); n > 0 {
			seen[n] = true
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// LatestIteration returns the highest iteration, optionally only among those containing requireFile.
// It returns 0 when there is none.
func (a *Accessor) LatestIteration(ctx context.Context, snapshotID, requireFile string) (int, error) {
	paths, err := a.store.List(ctx, snapshotID)
	if err != nil {
		return 0, err
	}
	requireFile = strings.TrimSpace(requireFile)
	best := 0
	for _, p := range paths {
		n := parseIteration(p)
		if n <= best {
			continue
		}
		if requireFile != "" && p != IterationPath(n, requireFile) {
			continue
		}
		best = n
	}
	return best, nil
}

// NextIteration reserves the next iteration number for snapshotID.
// Numbers are never handed out twice by one Accessor, even before anything is written under them.
func (a *Accessor) NextIteration(ctx context.Context, snapshotID string) (int, error) {
	latest, err := a.LatestIteration(ctx, snapshotID, "")
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := latest + 1
	if r := a.reserved[snapshotID]; r >= next {
		next = r + 1
	}
	a.reserved[snapshotID] = next
	a.log.Debug("iteration reserved", zap.String("snapshot_id", snapshotID), zap.Int("iteration", next))
	return next, nil
}
