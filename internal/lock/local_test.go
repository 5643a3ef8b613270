package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLocalLockerMutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := locker.Acquire(context.Background(), "join")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			_ = h.Release(context.Background())
		}()
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen.Load())
	}
}

func TestLocalLockerCancelledWait(t *testing.T) {
	locker := NewLocalLocker()
	h, err := locker.Acquire(context.Background(), "join")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "join"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// A different name is independent.
	other, err := locker.Acquire(context.Background(), "team:1")
	if err != nil {
		t.Fatalf("acquire other: %v", err)
	}
	_ = other.Release(context.Background())

	_ = h.Release(context.Background())
	_ = h.Release(context.Background())
	again, err := locker.Acquire(context.Background(), "join")
	if err != nil {
		t.Fatalf("expected lock to be free after release, got %v", err)
	}
	_ = again.Release(context.Background())
}

func TestLocalLockerForgetsIdleNames(t *testing.T) {
	locker := NewLocalLocker()
	for i := 0; i < 3; i++ {
		h, err := locker.Acquire(context.Background(), fmt.Sprintf("team:%d", i))
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		_ = h.Release(context.Background())
	}

	held, err := locker.Acquire(context.Background(), "join")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "join"); err == nil {
		t.Fatal("expected waiter to time out")
	}
	if n := len(locker.sems); n != 1 {
		t.Fatalf("expected only the held name to be tracked, got %d", n)
	}
	_ = held.Release(context.Background())

	if n := len(locker.sems); n != 0 {
		t.Fatalf("expected no tracked names once idle, got %d", n)
	}
}

func TestInstrumentCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	locker := Instrument(NewLocalLocker(), metrics)

	h, err := locker.Acquire(context.Background(), "app:team:12:lock")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Acquire(ctx, "app:team:12:lock"); err == nil {
		t.Fatal("expected cancelled acquire to fail")
	}
	_ = h.Release(context.Background())

	if got := testutil.ToFloat64(metrics.outcomes.WithLabelValues("app:team:*:lock", "acquired")); got != 1 {
		t.Fatalf("expected 1 acquired, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.outcomes.WithLabelValues("app:team:*:lock", "interrupted")); got != 1 {
		t.Fatalf("expected 1 interrupted, got %v", got)
	}
	if again := NewMetrics(reg); again.outcomes != metrics.outcomes {
		t.Fatal("expected re-registration to reuse the existing collector")
	}
}
