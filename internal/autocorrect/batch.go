package autocorrect

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunMany corrects different snapshots concurrently, at most parallel at a
// time. Results keep the order of ids; a run that cannot start is reported
// as aborted with the reason.
func (e *Engine) RunMany(ctx context.Context, ids []string, parallel int, maxIterations int) []Result {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, id := range ids {
		g.Go(func() error {
			res, err := e.Run(gctx, Request{SnapshotID: id, MaxIterations: maxIterations})
			if err != nil {
				res.SnapshotID = id
				res.Status = StatusAborted
				res.Reason = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
