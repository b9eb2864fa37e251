package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule. Every destination
// adapter and the orchestrator's per-file upload loop share the same
// policy shape instead of growing ad hoc retry loops.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the computed delay (0 disables).
	Jitter float64
}

// Default is the upload retry schedule: 3 attempts, 1s base, doubling,
// capped at 30s.
var Default = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	Jitter:      0.2,
}

// PolicyFromConfig builds a policy from the settings-level knobs (attempt
// ceiling and base delay in milliseconds), keeping Default's cap and jitter.
func PolicyFromConfig(maxAttempts, baseDelayMS int) Policy {
	p := Default
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if baseDelayMS > 0 {
		p.BaseDelay = time.Duration(baseDelayMS) * time.Millisecond
	}
	return p
}

// Delay returns the backoff before the given attempt (0-based). The first
// attempt carries no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

// Do runs fn until it succeeds, the attempt ceiling is reached, or the
// context is cancelled. The last error is returned wrapped with the
// attempt count.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
