package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartplanning/internal/autocorrect"
)

const (
	StatusRunning = "running"

	maxRunsPerSnapshot = 20
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// BusyError reports the run already correcting a snapshot.
type BusyError struct {
	SnapshotID string
	RunID      string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("snapshot %s is being corrected by run %s", e.SnapshotID, e.RunID)
}

func (e *BusyError) Is(target error) bool { return target == autocorrect.ErrSnapshotBusy }

// Runner is the part of the correction engine the service drives.
type Runner interface {
	Run(ctx context.Context, req autocorrect.Request) (autocorrect.Result, error)
	Active(snapshotID string) (string, bool)
}

// Record is the state of one background run.
type Record struct {
	RunID      string              `json:"run_id"`
	SnapshotID string              `json:"snapshot_id"`
	Status     string              `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Result     *autocorrect.Result `json:"result,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Service starts correction runs in the background and remembers the
// latest runs of each snapshot.
type Service struct {
	engine Runner
	events *EventBroker
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	runs       map[string]*Record
	bySnapshot map[string][]string
	starting   map[string]string
}

func New(engine Runner, events *EventBroker, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if events == nil {
		events = NewEventBroker()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		engine:     engine,
		events:     events,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		runs:       make(map[string]*Record),
		bySnapshot: make(map[string][]string),
		starting:   make(map[string]string),
	}
}

func (s *Service) Events() *EventBroker { return s.events }

// Start launches a correction of snapshotID and returns at once. A snapshot
// already being corrected yields a *BusyError.
func (s *Service) Start(snapshotID string, maxIterations int) (Record, error) {
	snapshotID = strings.TrimSpace(snapshotID)
	if snapshotID == "" {
		return Record{}, fmt.Errorf("snapshot_id is required")
	}
	s.mu.Lock()
	if runID, ok := s.starting[snapshotID]; ok {
		s.mu.Unlock()
		return Record{}, &BusyError{SnapshotID: snapshotID, RunID: runID}
	}
	if runID, ok := s.engine.Active(snapshotID); ok {
		s.mu.Unlock()
		return Record{}, &BusyError{SnapshotID: snapshotID, RunID: runID}
	}
	rec := &Record{
		RunID:      uuid.NewString(),
		SnapshotID: snapshotID,
		Status:     StatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	s.starting[snapshotID] = rec.RunID
	s.runs[rec.RunID] = rec
	s.remember(rec)
	snapshot := *rec
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(rec.RunID, snapshotID, maxIterations)
	s.log.Info("correction run started", zap.String("snapshot_id", snapshotID), zap.String("run_id", rec.RunID))
	return snapshot, nil
}

func (s *Service) execute(runID, snapshotID string, maxIterations int) {
	defer s.wg.Done()
	res, err := s.engine.Run(s.ctx, autocorrect.Request{SnapshotID: snapshotID, RunID: runID, MaxIterations: maxIterations})

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.starting, snapshotID)
	rec, ok := s.runs[runID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	rec.FinishedAt = &now
	if err != nil {
		rec.Status = string(autocorrect.StatusAborted)
		rec.Error = err.Error()
		s.log.Warn("correction run failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	rec.Status = string(res.Status)
	rec.Result = &res
	s.log.Info("correction run finished",
		zap.String("run_id", runID),
		zap.String("status", string(res.Status)),
		zap.Int("iterations", res.Iterations))
}

// remember indexes rec under its snapshot, forgetting the oldest finished
// runs beyond the per-snapshot limit. Callers hold s.mu.
func (s *Service) remember(rec *Record) {
	ids := append(s.bySnapshot[rec.SnapshotID], rec.RunID)
	for len(ids) > maxRunsPerSnapshot {
		delete(s.runs, ids[0])
		ids = ids[1:]
	}
	s.bySnapshot[rec.SnapshotID] = ids
}

// Get returns a copy of a run's record.
func (s *Service) Get(runID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[strings.TrimSpace(runID)]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return *rec, nil
}

// Runs lists the remembered runs of a snapshot, newest first.
func (s *Service) Runs(snapshotID string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySnapshot[strings.TrimSpace(snapshotID)]
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.runs[id]; ok {
			out = append(out, *rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Wait blocks until every started run has finished.
func (s *Service) Wait() { s.wg.Wait() }

// Shutdown cancels running corrections and waits for them until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
