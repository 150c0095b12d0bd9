package engine

import (
	"context"
	"sync"
)

// workerPool is a bounded goroutine pool sized to a workflow's
// ExecutionPolicy.MaxParallelSteps (spec §5 "Scheduling model"). When
// parallelism is disabled the pool is sized to 1, serializing every wave.
type workerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{sem: make(chan struct{}, size)}
}

// run submits fn for concurrent execution, blocking for a free slot or
// until ctx is cancelled. The caller must call wait() once all submits
// for the current wave are issued.
func (p *workerPool) run(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

func (p *workerPool) wait() {
	p.wg.Wait()
}
