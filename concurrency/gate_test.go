package concurrency_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skulanet/timatalva/concurrency"
)

func TestGate_LimitsInFlight(t *testing.T) {
	limiter := concurrency.New(concurrency.Options{Min: 1, Max: 10, Initial: 2})
	gate := concurrency.NewGate(limiter)

	var current, maxSeen int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := gate.Acquire(ctx); err != nil {
				t.Error(err)
				return
			}
			defer gate.Release()

			n := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&current, -1)
		}()
	}
	wg.Wait()

	if maxSeen > 2 {
		t.Errorf("observed %d concurrent holders, want <= 2", maxSeen)
	}
}

func TestGate_AdmissionsFollowLimiterGrowth(t *testing.T) {
	limiter := concurrency.New(concurrency.Options{Min: 1, Max: 10, Initial: 1, SuccessThreshold: 1, FailureCooldownSec: -1})
	gate := concurrency.NewGate(limiter)

	ctx := context.Background()
	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire returned error: %v", err)
	}

	limiter.ReportSuccess()
	if got := limiter.Limit(); got != 2 {
		t.Fatalf("Limit() after growth = %d, want 2", got)
	}

	// The second slot opened by the limiter's growth must be admittable
	// without releasing the first.
	grownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := gate.Acquire(grownCtx); err != nil {
		t.Errorf("Acquire after limiter growth returned error: %v", err)
	}
}

func TestGate_AcquireRespectsCancellation(t *testing.T) {
	limiter := concurrency.New(concurrency.Options{Min: 1, Max: 10, Initial: 1})
	gate := concurrency.NewGate(limiter)

	ctx := context.Background()
	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire returned error: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gate.Acquire(cancelCtx); err == nil {
		t.Error("expected Acquire to return an error for a cancelled context")
	}
}
