// Package scheduler runs data-parallel task batches: a parallel phase over
// a slice of task descriptors followed by a single-threaded write-back.
package scheduler

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Scheduler processes the index range [0, n) in contiguous chunks of about
// grain indices. fn must only touch data owned by its range. ParallelFor
// returns once every chunk is done.
type Scheduler interface {
	ParallelFor(n, grain int, fn func(begin, end int))
}

// Serial runs everything on the calling goroutine.
type Serial struct{}

// ParallelFor calls fn once for the whole range.
func (Serial) ParallelFor(n, _ int, fn func(begin, end int)) {
	if n > 0 {
		fn(0, n)
	}
}

// Pool fans chunks out to at most Workers goroutines per call. Goroutines live
// for one call only.
type Pool struct {
	workers int
}

// NewPool creates a pool. workers <= 0 uses GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the goroutine limit.
func (p *Pool) Workers() int { return p.workers }

// ParallelFor splits [0, n) into chunks of grain indices. grain <= 0 spreads
// the range evenly over the workers.
func (p *Pool) ParallelFor(n, grain int, fn func(begin, end int)) {
	if n <= 0 {
		return
	}
	if grain <= 0 {
		grain = (n + p.workers - 1) / p.workers
	}
	if p.workers == 1 || n <= grain {
		fn(0, n)
		return
	}
	var g errgroup.Group
	g.SetLimit(p.workers)
	for begin := 0; begin < n; begin += grain {
		end := min(begin+grain, n)
		g.Go(func() error {
			fn(begin, end)
			return nil
		})
	}
	_ = g.Wait()
}

// New returns a Serial scheduler for a single worker and a Pool otherwise.
func New(workers int) Scheduler {
	if workers == 1 {
		return Serial{}
	}
	return NewPool(workers)
}
