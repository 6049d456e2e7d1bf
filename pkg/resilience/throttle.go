package resilience

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown pauses for d between heavy I/O phases. It returns early with the
// context error if ctx is cancelled.
func Cooldown(ctx context.Context, name string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	slog.Default().With("component", "cooldown").Info("cooling down", "after", name, "duration", d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RowThrottle caps the number of rows written per second. A nil RowThrottle
// never waits.
type RowThrottle struct {
	limiter *rate.Limiter
	burst   int
}

// NewRowThrottle returns a throttle admitting rowsPerSecond rows, or nil when
// rowsPerSecond is not positive.
func NewRowThrottle(rowsPerSecond, burst int) *RowThrottle {
	if rowsPerSecond <= 0 {
		return nil
	}
	if burst < rowsPerSecond {
		burst = rowsPerSecond
	}
	return &RowThrottle{
		limiter: rate.NewLimiter(rate.Limit(rowsPerSecond), burst),
		burst:   burst,
	}
}

// Wait blocks until n more rows may be written.
func (t *RowThrottle) Wait(ctx context.Context, n int) error {
	if t == nil {
		return nil
	}
	for n > 0 {
		step := n
		if step > t.burst {
			step = t.burst
		}
		if err := t.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
