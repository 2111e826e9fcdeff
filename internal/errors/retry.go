package errors

import (
	"context"
	"time"
)

// RetryPolicy retries retryable AppErrors with exponential backoff.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy is used by WithRetry.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:     3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2,
}

// WithRetry runs fn under DefaultRetryPolicy.
func WithRetry(ctx context.Context, fn func() error) error {
	return DefaultRetryPolicy.Do(ctx, fn)
}

// Do calls fn until it succeeds, fails with a non-retryable error or the retries run out.
// The last error is returned. Backoff waits end early with ctx.Err() when ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil || !IsRetryable(err) || retry >= p.MaxRetries {
			return err
		}

		if werr := sleep(ctx, p.backoff(retry)); werr != nil {
			return werr
		}
	}
}

// backoff returns the wait before retry number n+1.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < n && d < p.MaxBackoff; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetryable reports whether err carries a retryable AppError.
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}
