// ABOUTME: Concurrent, paced deletion of many threads
// ABOUTME: Each deletion is independent and results are aggregated after all settle

package thread

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Failure is one thread that could not be deleted.
type Failure struct {
	ID  string
	Err error
}

// BulkResult reports which ids were deleted and which failed. Ids appear
// in the order they were requested.
type BulkResult struct {
	Deleted []string
	Failed  []Failure
}

// FailedIDs returns the ids that were not deleted.
func (r *BulkResult) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

// Err joins the per-thread failures, or returns nil when all succeeded.
func (r *BulkResult) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("thread %s: %w", f.ID, f.Err))
	}
	return errors.Join(errs...)
}

// BulkDelete deletes every id with Delete's semantics. Deletions run in
// parallel up to the configured concurrency and rate. A failure never
// stops or undoes the others. Duplicate ids are deleted once.
func (c *Coordinator) BulkDelete(ctx context.Context, ids []string) *BulkResult {
	ids = uniq(ids)
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = c.Delete(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	result := &BulkResult{}
	for i, id := range ids {
		if errs[i] != nil {
			result.Failed = append(result.Failed, Failure{ID: id, Err: errs[i]})
			continue
		}
		result.Deleted = append(result.Deleted, id)
	}

	c.logger.Info("bulk delete finished",
		"requested", len(ids),
		"deleted", len(result.Deleted),
		"failed", len(result.Failed))
	return result
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
