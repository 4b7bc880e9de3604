package runtime

import (
	"context"
	"sync"
)

// workerPool implements a fixed-size worker pool for parallel task execution.
// Workers are long-lived goroutines reading from a buffered job channel
// (3× worker count); Run blocks until every submitted task has finished.
type workerPool struct {
	jobs chan poolJob
	size int
}

type poolJob struct {
	fn func()
	wg *sync.WaitGroup
}

// newWorkerPool returns nil for size <= 1; callers run serially in that case.
func newWorkerPool(size int) *workerPool {
	if size <= 1 {
		return nil
	}
	p := &workerPool{jobs: make(chan poolJob, size*3), size: size}
	for i := 0; i < size; i++ {
		go func() {
			for job := range p.jobs {
				job.fn()
				job.wg.Done()
			}
		}()
	}
	return p
}

func (p *workerPool) Run(tasks ...func()) {
	var wg sync.WaitGroup
	for _, task := range tasks {
		if task == nil {
			continue
		}
		wg.Add(1)
		p.jobs <- poolJob{fn: task, wg: &wg}
	}
	wg.Wait()
}

func (p *workerPool) Close() {
	close(p.jobs)
}

// runBatches calls fn(i) for i in [0, n), in parallel when a pool is
// available. Cancellation is checked before each call; the first error (or
// ctx.Err()) is returned after all started calls finish.
func runBatches(ctx context.Context, p *workerPool, n int, fn func(i int) error) error {
	errs := make([]error, n)
	call := func(i int) {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			return
		}
		errs[i] = fn(i)
	}

	if p == nil || n < 2 {
		for i := 0; i < n; i++ {
			call(i)
			if errs[i] != nil {
				return errs[i]
			}
		}
		return nil
	}

	tasks := make([]func(), n)
	for i := range tasks {
		tasks[i] = func() { call(i) }
	}
	p.Run(tasks...)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
