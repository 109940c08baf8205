package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how long a single collaborator request may take and how often it is retried.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CallTimeout     time.Duration
}

// DefaultRetryPolicy returns the production retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		CallTimeout:     90 * time.Second,
	}
}

// CallWithRetry runs call with a per-attempt timeout, retrying transient failures with
// exponential backoff. Non-transient errors stop immediately. onRetry, if set, is called
// before each wait.
func CallWithRetry(ctx context.Context, policy RetryPolicy, call func(ctx context.Context) (string, error), onRetry func(err error, wait time.Duration)) (string, error) {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	op := func() (string, error) {
		callCtx := ctx
		if policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, policy.CallTimeout)
			defer cancel()
		}
		out, err := call(callCtx)
		if err != nil && !IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(onRetry)))
	}
	return backoff.Retry(ctx, op, opts...)
}
