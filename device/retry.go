package device

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Delay returns the backoff duration before retrying attempt (1-based: the
// delay before the 2nd attempt is Delay(1)), exponential from BaseDelay
// with ±JitterFrac jitter (spec §4.4: "exponential backoff starting at
// retry_delay, jitter ±20%").
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	jitter := base * p.JitterFrac * (2*rand.Float64() - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// Sleep waits for Delay(attempt) or ctx cancellation, whichever comes
// first.
func (p BackoffPolicy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
