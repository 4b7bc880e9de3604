package runtime

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRunsAllTasks(t *testing.T) {
	pool := newWorkerPool(4)
	if pool == nil {
		t.Fatal("newWorkerPool(4) returned nil")
	}
	defer pool.Close()

	var n atomic.Int64
	tasks := make([]func(), 32)
	for i := range tasks {
		tasks[i] = func() { n.Add(1) }
	}
	tasks[5] = nil
	pool.Run(tasks...)
	if got := n.Load(); got != 31 {
		t.Fatalf("ran %d tasks, want 31", got)
	}
}

func TestNewWorkerPoolSerial(t *testing.T) {
	if newWorkerPool(1) != nil || newWorkerPool(0) != nil {
		t.Fatal("pool of size <= 1 must be nil")
	}
}

func TestRunBatches(t *testing.T) {
	for _, size := range []int{1, 4} {
		pool := newWorkerPool(size)
		seen := make([]bool, 10)
		err := runBatches(context.Background(), pool, len(seen), func(i int) error {
			seen[i] = true
			return nil
		})
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		for i, ok := range seen {
			if !ok {
				t.Errorf("size %d: batch %d not run", size, i)
			}
		}
		if pool != nil {
			pool.Close()
		}
	}
}

func TestRunBatchesError(t *testing.T) {
	pool := newWorkerPool(3)
	defer func() {
		if pool != nil {
			pool.Close()
		}
	}()
	boom := errors.New("boom")
	err := runBatches(context.Background(), pool, 6, func(i int) error {
		if i == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestRunBatchesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int64
	for _, pool := range []*workerPool{nil, newWorkerPool(2)} {
		err := runBatches(ctx, pool, 5, func(int) error {
			calls.Add(1)
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if pool != nil {
			pool.Close()
		}
	}
	if calls.Load() != 0 {
		t.Fatalf("%d batches ran after cancellation", calls.Load())
	}
}

// BenchmarkWorkerPoolDispatch measures the dispatch overhead of the worker pool
func BenchmarkWorkerPoolDispatch(b *testing.B) {
	workerCount := runtime.GOMAXPROCS(0)
	pool := newWorkerPool(workerCount)
	if pool == nil {
		b.Skip("Worker pool requires GOMAXPROCS > 1")
	}
	defer pool.Close()

	noop := func() {
		_ = 1 + 1
	}

	b.Run("SingleTask", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			pool.Run(noop)
		}
	})

	b.Run("FourTasks", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			pool.Run(noop, noop, noop, noop)
		}
	})
}
