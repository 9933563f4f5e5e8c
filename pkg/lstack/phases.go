package lstack

import (
	"context"
	"runtime"
	"sync"
)

// The pipeline is a strict sequence of phases. Within a phase, work
// over independent frames or APs fans out across a worker pool; no
// phase starts before its predecessor has fully completed, because
// each consumes aggregate outputs (mean frame, full AP set) of the
// one before.
type Phase string

const (
	PhaseRankFrames  Phase = "rank-frames"
	PhaseRefPatch    Phase = "reference-patch"
	PhaseGlobalAlign Phase = "global-align"
	PhaseMeanFrame   Phase = "mean-frame"
	PhaseAPGrid      Phase = "ap-grid"
	PhaseLocal       Phase = "local-stack"
	PhaseBlend       Phase = "blend"
)

// A ProgressFunc receives per-phase progress for display. May be nil.
type ProgressFunc func(phase Phase, done, total int)

func (p ProgressFunc) step(phase Phase, done, total int) {
	if p != nil {
		p(phase, done+1, total)
	}
}

// forEachUnit runs fn(0..n-1) across a pool of workers bounded by the
// CPU count. Cancellation is cooperative and checked between units,
// never mid-correlation; on cancel the phase's partial results are
// discarded wholesale by the caller.
func forEachUnit(ctx context.Context, n int, fn func(k int)) error {
	nWorkers := runtime.GOMAXPROCS(0)
	if nWorkers > n {
		nWorkers = n
	}
	if nWorkers < 1 {
		nWorkers = 1
	}

	jobsChan := make(chan int, n)
	var wg sync.WaitGroup

	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobsChan {
				if ctx.Err() != nil {
					continue // drain without working
				}
				fn(k)
			}
		}()
	}

	for k := 0; k < n; k++ {
		jobsChan <- k
	}
	close(jobsChan)
	wg.Wait()

	return ctx.Err()
}
