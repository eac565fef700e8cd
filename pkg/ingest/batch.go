package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/eventcore/pkg/event"
)

// maxBatchConcurrency bounds how many requests in one ingest_batch call run
// concurrently; WAL group-commit happens naturally underneath for requests
// whose streams share a partition, since those funnel into that
// partition's commitLoop (§4.6 "WAL append is a single group-commit").
const maxBatchConcurrency = 32

// Result is one batch-ingest outcome: exactly one of Receipt or Err is set.
type Result struct {
	Receipt Receipt
	Err     error
}

// IngestBatch runs each request through Ingest, fanning out with a bounded
// worker pool (§4.6 "ingest_batch(tenant, [request]) -> [Receipt | Err]").
// A failure in one request never aborts the others — each slot in the
// returned slice corresponds to the request at the same index.
func (p *Pipeline) IngestBatch(ctx context.Context, requests []event.Request, trusted bool) []Result {
	results := make([]Result, len(requests))

	var g errgroup.Group
	g.SetLimit(maxBatchConcurrency)

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Err: err}
				return nil
			}
			receipt, err := p.Ingest(req, trusted)
			results[i] = Result{Receipt: receipt, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
