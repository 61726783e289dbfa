package kyc

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome of one submission of a batch.
type BatchItem struct {
	Result RunResult
	Err    error
}

// Batch processes independent submissions concurrently.
type Batch struct {
	Pipeline *Pipeline
}

// Run processes subs with at most limit runs in flight. Results come back in
// input order. A failed run does not cancel its siblings.
func (b Batch) Run(ctx context.Context, subs []Submission, limit int) []BatchItem {
	items := make([]BatchItem, len(subs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, sub := range subs {
		g.Go(func() error {
			res, err := b.Pipeline.Process(ctx, sub)
			items[i] = BatchItem{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items
}
