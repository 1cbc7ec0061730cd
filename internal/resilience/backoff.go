// SPDX-License-Identifier: Apache-2.0

// Package resilience provides the backoff policy used by the session
// supervisor when recreating failed backend sessions.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential delays with jitter, capped at MaxDelay.
type Backoff struct {
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// Jitter adds randomness to prevent thundering herd.
	// Value between 0 and 1; 0.1 means ±10% jitter.
	Jitter float64
}

// DefaultBackoff returns the gateway's default restart backoff policy.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Delay returns the backoff delay for the given attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Multiplier == 0 {
		b.Multiplier = 2.0
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := time.Duration(float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt)))
	if delay > b.MaxDelay || delay <= 0 {
		delay = b.MaxDelay
	}

	if b.Jitter > 0 {
		jitterAmount := delay.Seconds() * b.Jitter
		jitterRange := 2 * jitterAmount * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) + jitterRange*1e9)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}

// Sleep waits for the attempt's delay or until ctx is done.
func (b Backoff) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(b.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
