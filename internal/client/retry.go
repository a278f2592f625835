package client

import (
	"context"
	"log/slog"
	"time"
)

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy bounds the calls of one logical operation: a first call and
// up to Retries more. The wait before retry n is n*BaseDelay, giving 2s, 4s,
// 6s for the defaults.
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
	Sleep     Sleeper
	Logger    *slog.Logger
}

// Delay returns the wait before the given retry (1-based)
func (p RetryPolicy) Delay(retry int) time.Duration {
	return time.Duration(retry) * p.BaseDelay
}

// Do runs fn until it succeeds, fails with a non-retryable error or the
// retries are exhausted. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	err := fn(ctx)
	for retry := 1; retry <= p.Retries && Retryable(err); retry++ {
		delay := p.Delay(retry)
		if p.Logger != nil {
			p.Logger.WarnContext(ctx, "retrying license call",
				slog.String("operation", op),
				slog.Int("retry", retry),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()))
		}
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
		err = fn(ctx)
	}
	return err
}
