package provider

import (
	"context"
	"sync"
	"time"
)

// tokenBucket is a goroutine-safe token bucket refilled on a fixed window,
// grounded on the teacher's single-worker request-queue rate limiter in
// clients/tradernet/sdk/client.go, generalized from a fixed inter-request
// delay to a max_calls-per-window bucket per spec §4.1 item 1.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	window     time.Duration
	windowTime time.Time
}

func newTokenBucket(maxCalls int, window time.Duration) *tokenBucket {
	return &tokenBucket{
		tokens:     maxCalls,
		maxTokens:  maxCalls,
		window:     window,
		windowTime: time.Now(),
	}
}

// Acquire blocks until a token is available or ctx is cancelled, waiting up
// to the configured window as spec §4.1 requires.
func (b *tokenBucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		if now.Sub(b.windowTime) >= b.window {
			b.tokens = b.maxTokens
			b.windowTime = now
		}
		if b.tokens > 0 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := b.window - now.Sub(b.windowTime)
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
