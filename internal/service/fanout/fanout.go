// Package fanout provides a bounded, reusable worker pool for the
// concurrent per-port work the sending services and NBP broadcast
// handling do every tick: one task per Port (RTMP sending), one task per
// destination group of zone-less ranges (ZIP sending) or one task per
// matching routing-table entry (NBP BrRq), run without spawning
// an unbounded number of goroutines. Built on ants, the teacher's choice
// for bounded concurrency.
package fanout

import (
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Pool runs independent tasks with a fixed upper bound on concurrency.
type Pool struct {
	pool *ants.Pool
}

// New returns a Pool that runs at most size tasks concurrently. size <= 0
// falls back to ants' own default.
func New(size int) (*Pool, error) {
	if size <= 0 {
		size = ants.DefaultAntsPoolSize
	}
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p}, nil
}

// Run submits each task to the pool and blocks until every task submitted
// in this call has finished, mirroring the all-ports-per-tick fan-out
// spec.md §4.6 and §4.7.I describe.
func (p *Pool) Run(tasks []func()) {
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		_ = p.pool.Submit(func() {
			defer wg.Done()
			task()
		})
	}
	wg.Wait()
}

// Release tears down the underlying worker pool. Safe to call once at
// Router shutdown.
func (p *Pool) Release() {
	p.pool.Release()
}
