// Package retry runs an operation a bounded number of times while it fails
// with a retryable backend error.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"doerline/internal/apperr"
	"doerline/internal/metrics"
)

// Policy bounds the retries. Attempts counts the first call; values below 1
// mean a single attempt.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Logger    *zap.Logger
	Sleep     func(context.Context, time.Duration) error
}

// Default is three attempts with linear 100ms backoff.
func Default() Policy {
	return Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond}
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		retryable, class := apperr.IsRetryable(err)
		if !retryable || attempt == attempts {
			break
		}
		metrics.Retries.WithLabelValues(op, class).Inc()
		if p.Logger != nil {
			p.Logger.Warn("retrying after backend error",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.String("class", class),
				zap.Error(err),
			)
		}
		if serr := sleep(ctx, time.Duration(attempt)*p.BaseDelay); serr != nil {
			return err
		}
	}
	return apperr.Unavailable(op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
