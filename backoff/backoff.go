/*
Package backoff computes exponential reconnect delays with jitter. It
is deliberately just the delay calculation, not a retry driver: unlike
the retrieved pkg/retry package's bounded Do(ctx, cfg, fn) helper, the
HTSP supervisor's reconnect loop runs until Stop() is called, so it
owns its own loop and cancellation via context and only asks this
package "how long before the next attempt".
*/
package backoff

import (
	"math/rand"
	"time"
)

// Config parameterizes the exponential backoff curve.
type Config struct {
	// InitialDelay is the delay before the first reconnect attempt.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay regardless of attempt count.
	MaxDelay time.Duration
	// Multiplier scales the delay on each successive attempt.
	Multiplier float64
	// AddJitter randomizes the computed delay within +/-25% to avoid
	// a thundering herd of reconnecting clients synchronizing retries.
	AddJitter bool
}

// Default returns the spec.md §6 reconnectBackoff defaults: 1s initial,
// 30s max, 2x multiplier, jitter on.
func Default() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Next returns the delay to wait before reconnect attempt number
// attempt (0-indexed: attempt 0 is the delay before the first retry).
func (c Config) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(c.InitialDelay)
	mult := c.Multiplier
	if mult <= 1.0 {
		mult = 1.0
	}
	for i := 0; i < attempt; i++ {
		delay *= mult
		if time.Duration(delay) >= c.MaxDelay {
			delay = float64(c.MaxDelay)
			break
		}
	}

	d := time.Duration(delay)
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if d < 0 {
		d = 0
	}

	if c.AddJitter && d > 0 {
		// +/-25% jitter, uniformly distributed.
		jitterRange := float64(d) * 0.25
		d = time.Duration(float64(d) - jitterRange + rand.Float64()*jitterRange*2)
		if d < 0 {
			d = 0
		}
	}
	return d
}
