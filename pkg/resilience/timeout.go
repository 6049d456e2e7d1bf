package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn under a deadline of d. It returns as soon as the
// deadline passes, even if fn ignores its context. A zero d runs fn
// without a deadline.
func WithTimeout(ctx context.Context, d time.Duration, name string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeoutCause(ctx, d, fmt.Errorf("%s: %w after %v", name, context.DeadlineExceeded, d))
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(tctx) }()
	select {
	case err := <-result:
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
		return context.Cause(tctx)
	}
}
