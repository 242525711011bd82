package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestUnlimitedProviderNeverBlocks(t *testing.T) {
	gate := NewGate(map[string]int{"deezer": Unlimited})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			if err := gate.Acquire(context.Background(), "deezer"); err != nil {
				t.Errorf("Acquire failed: %v", err)
				break
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Unlimited gate blocked")
	}
}

func TestUnknownProviderIsUnlimited(t *testing.T) {
	gate := NewGate(map[string]int{"qobuz": 10})

	if err := gate.Acquire(context.Background(), "tidal"); err != nil {
		t.Fatalf("Acquire for unconfigured provider failed: %v", err)
	}
	if gate.Remaining("tidal") != -1 {
		t.Error("Expected unconfigured provider to report unlimited quota")
	}
}

func TestQuotaExhaustionWithinWindow(t *testing.T) {
	gate := NewGate(map[string]int{"qobuz": 3})

	for i := 0; i < 3; i++ {
		if wait, ok := gate.tryAcquire("qobuz"); !ok {
			t.Fatalf("Grant %d denied, wait=%v", i+1, wait)
		}
	}

	wait, ok := gate.tryAcquire("qobuz")
	if ok {
		t.Fatal("Fourth grant admitted inside the window")
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("Expected wait within (0, 1m], got %v", wait)
	}
}

func TestWindowRolloverResetsQuota(t *testing.T) {
	gate := NewGate(map[string]int{"qobuz": 2})

	current := time.Now()
	gate.now = func() time.Time { return current }

	gate.tryAcquire("qobuz")
	gate.tryAcquire("qobuz")
	if _, ok := gate.tryAcquire("qobuz"); ok {
		t.Fatal("Expected quota exhausted")
	}

	current = current.Add(61 * time.Second)

	if _, ok := gate.tryAcquire("qobuz"); !ok {
		t.Fatal("Expected fresh quota after rollover")
	}
	if gate.Remaining("qobuz") != 1 {
		t.Errorf("Expected 1 grant remaining, got %d", gate.Remaining("qobuz"))
	}
}

// Concurrent acquisitions beyond the quota must admit at most the quota
// before the window rolls over.
func TestNoOverAdmissionUnderConcurrency(t *testing.T) {
	const limit = 5
	const callers = 20

	gate := NewGate(map[string]int{"tidal": limit})

	var granted int32
	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Acquire(ctx, "tidal"); err == nil {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()

	// Window never rolled over inside the test timeout, so grants == limit.
	if got := atomic.LoadInt32(&granted); got != limit {
		t.Errorf("Expected exactly %d grants within the window, got %d", limit, got)
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	gate := NewGate(map[string]int{"soundcloud": 1})

	if err := gate.Acquire(context.Background(), "soundcloud"); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gate.Acquire(ctx, "soundcloud")
	}()

	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not observe cancellation")
	}
}

func TestZeroQuotaNeverGrants(t *testing.T) {
	gate := NewGate(map[string]int{"qobuz": 1})
	gate.Acquire(context.Background(), "qobuz")

	// Quota drained; a short deadline must expire without a grant.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := gate.Acquire(ctx, "qobuz"); err != context.DeadlineExceeded {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}
