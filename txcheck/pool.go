package txcheck

import (
	"context"

	"golang.org/x/sync/errgroup"

	"yuvprotocol.org/node/pixel"
)

// Pool runs Check calls concurrently, bounding the number in flight to
// PoolSize so CPU-bound cryptographic verification doesn't oversubscribe
// the machine.
type Pool struct {
	poolSize int
}

// NewPool constructs a Pool sized per config (spec §4.2 "checkers.pool_size").
func NewPool(poolSize int) *Pool {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Pool{poolSize: poolSize}
}

// Job is one transaction to check, paired with everything Check needs.
type Job struct {
	Tx                 *YuvTx
	Inputs             map[uint32]InputContext
	Outputs            map[uint32]InputContext
	Freeze             FreezeLookup
	AnnouncementChroma AnnouncementChromaLookup
}

// Result pairs a job's originating transaction with its outcome.
type Result struct {
	Tx  *YuvTx
	Err error
}

// CheckAll runs every job, capped at Pool's size, and returns results in
// the same order the jobs were given — the per-job error is carried in
// Result.Err rather than aborting the whole batch, since one malformed
// transaction must never block checking the rest.
func (p *Pool) CheckAll(ctx context.Context, jobs []Job, rv pixel.RangeVerifier) []Result {
	results := make([]Result, len(jobs))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.poolSize)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			err := Check(job.Tx, job.Inputs, job.Outputs, rv, job.Freeze, job.AnnouncementChroma)
			results[i] = Result{Tx: job.Tx, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
