package common

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds connector-level retries of transient failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used by the HTTP connectors.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// Retry runs op until it succeeds, returns a permanent error, the attempt
// budget is spent or ctx is done. Only read-only calls should be retried;
// order placement is not idempotent across venues.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		res T
		err error
	)
	for i := 0; i < attempts; i++ {
		res, err = op(ctx)
		if err == nil || !IsTemporary(err) || i == attempts-1 {
			return res, err
		}
		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			return res, err
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return res, err
}
