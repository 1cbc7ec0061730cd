// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"testing"
	"time"
)

func TestDelayGrowsExponentially(t *testing.T) {
	b := Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		// no jitter so the sequence is deterministic
	}

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, want := range expected {
		if got := b.Delay(i); got != want {
			t.Errorf("Delay(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	b := Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
	if got := b.Delay(10); got != 5*time.Second {
		t.Errorf("Delay(10) = %v, want cap %v", got, 5*time.Second)
	}
	// large attempts must not overflow into negative durations
	if got := b.Delay(200); got != 5*time.Second {
		t.Errorf("Delay(200) = %v, want cap %v", got, 5*time.Second)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	b := Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
	for i := 0; i < 100; i++ {
		d := b.Delay(0)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%% of 1s", d)
		}
	}
}

func TestNegativeAttempt(t *testing.T) {
	b := DefaultBackoff()
	if d := b.Delay(-3); d < 0 {
		t.Errorf("Delay(-3) = %v, want non-negative", d)
	}
}

func TestSleepRespectsContext(t *testing.T) {
	b := Backoff{
		InitialDelay: 10 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Sleep(ctx, 0); err == nil {
		t.Error("expected context error from Sleep")
	}
}

func TestSleepCompletes(t *testing.T) {
	b := Backoff{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     1 * time.Millisecond,
		Multiplier:   2.0,
	}
	if err := b.Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep returned %v", err)
	}
}
