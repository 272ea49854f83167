package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"BreakoutSentinel/internal/config"
)

// RetryPolicy bounds how long one logical exchange call may take.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Timeout         time.Duration // per attempt
}

// PolicyFromConfig extracts a RetryPolicy from cfg.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxRetry,
		InitialInterval: time.Duration(cfg.RetryDelay) * time.Second,
		Timeout:         cfg.Timeout(),
	}
}

// Idempotent retries every transient failure. Use it for reads, stop
// placement and cancels.
func Idempotent(err error) bool { return Retryable(err) }

// NotExecuted retries only failures known to have left the venue untouched.
// Use it for market orders.
func NotExecuted(err error) bool { return errors.Is(err, ErrRateLimited) }

// Call runs fn under a per-attempt timeout and retries the errors accepted by
// retry with exponential backoff, up to MaxAttempts attempts in total.
func Call[T any](ctx context.Context, p RetryPolicy, retry func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	op := func() error {
		actx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		v, err := fn(actx)
		if err != nil {
			if !retry(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	b.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return out, err
	}
	return out, nil
}

// Do is Call for operations without a result.
func Do(ctx context.Context, p RetryPolicy, retry func(error) bool, fn func(context.Context) error) error {
	_, err := Call(ctx, p, retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
