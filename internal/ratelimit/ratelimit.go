// Package ratelimit gates outbound requests per provider using a fixed
// one-minute window. Unlike a token bucket, the window admits at most the
// configured quota between rollovers regardless of how callers interleave,
// which is what provider terms of service actually count.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Unlimited disables the gate for a provider.
const Unlimited = 0

const window = time.Minute

// Gate bounds request rate per provider. Safe for concurrent use.
type Gate struct {
	mu     sync.Mutex
	limits map[string]int
	states map[string]*windowState

	// now is swappable for tests.
	now func() time.Time
}

type windowState struct {
	start     time.Time
	remaining int
}

// NewGate creates a gate from a provider -> requests-per-minute map.
// Providers absent from the map are unlimited.
func NewGate(limits map[string]int) *Gate {
	copied := make(map[string]int, len(limits))
	for provider, limit := range limits {
		copied[provider] = limit
	}
	return &Gate{
		limits: copied,
		states: make(map[string]*windowState),
		now:    time.Now,
	}
}

// Acquire blocks until the provider has quota in the current window, then
// consumes one grant. It returns an error only when ctx is cancelled.
// A quota of zero with a configured limit never grants; that is a
// misconfiguration the caller owns, not a gate defect.
func (g *Gate) Acquire(ctx context.Context, provider string) error {
	for {
		wait, ok := g.tryAcquire(provider)
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire consumes a grant if available; otherwise it returns how long to
// sleep before the window rolls over. The lock covers only the in-memory
// bookkeeping, never the wait itself.
func (g *Gate) tryAcquire(provider string) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, limited := g.limits[provider]
	if !limited || limit == Unlimited {
		return 0, true
	}

	now := g.now()
	state, exists := g.states[provider]
	if !exists || now.Sub(state.start) >= window {
		state = &windowState{start: now, remaining: limit}
		g.states[provider] = state
	}

	if state.remaining > 0 {
		state.remaining--
		return 0, true
	}

	wait := window - now.Sub(state.start)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// Remaining reports the quota left in the provider's current window.
// Providers without a limit report -1.
func (g *Gate) Remaining(provider string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, limited := g.limits[provider]
	if !limited || limit == Unlimited {
		return -1
	}

	state, exists := g.states[provider]
	if !exists || g.now().Sub(state.start) >= window {
		return limit
	}
	return state.remaining
}
