package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	reg := NewRegistry()
	pool := reg.Pool("FOLDER_work", 2)

	var current, maxSeen int64
	tasks := make([]func(context.Context) error, 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n := atomic.AddInt64(&current, 1)
			for {
				m := atomic.LoadInt64(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt64(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}
	}

	if err := pool.Go(context.Background(), tasks); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if maxSeen > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", maxSeen)
	}
}

func TestPoolSameNameReturnsSamePool(t *testing.T) {
	reg := NewRegistry()
	a := reg.Pool("ACCOUNTLIMIT", 3)
	b := reg.Pool("ACCOUNTLIMIT", 99)
	if a != b {
		t.Fatalf("expected the same pool instance for a repeated name")
	}
	if b.Bound() != 3 {
		t.Fatalf("expected first-writer-wins bound 3, got %d", b.Bound())
	}
}

func TestPoolPropagatesTaskError(t *testing.T) {
	reg := NewRegistry()
	pool := reg.Pool("FOLDER_x", 1)

	sentinel := context.Canceled
	tasks := []func(context.Context) error{
		func(ctx context.Context) error { return sentinel },
		func(ctx context.Context) error { return nil },
	}
	if err := pool.Go(context.Background(), tasks); err == nil {
		t.Fatalf("expected an error from the failing task")
	}
}
