package statecraft

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures the WithRetry action decorator. The runtime has no
// timeout mechanism of its own; retry and timeout policy belong to
// individual actions, and this decorator is a convenience for the common
// case.
type RetryPolicy struct {
	// MaxAttempts bounds the total number of tries; values below 1 are
	// treated as 1 (no retries).
	MaxAttempts int
	// Initial is the delay before the first retry. Zero retries
	// immediately.
	Initial time.Duration
	// Max caps the delay between retries; zero means no cap.
	Max time.Duration
	// Multiplier grows the delay each attempt; values <= 1 keep it
	// constant.
	Multiplier float64
}

// Retry creates a policy with the given maximum attempts and no delay
func Retry(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{MaxAttempts: maxAttempts}
}

// WithExponentialBackoff sets a growing delay between retries
func (p RetryPolicy) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryPolicy {
	p.Initial = initial
	p.Max = max
	if multiplier <= 1 {
		multiplier = 2.0
	}
	p.Multiplier = multiplier
	return p
}

// WithConstantBackoff sets a fixed delay between retries
func (p RetryPolicy) WithConstantBackoff(delay time.Duration) RetryPolicy {
	p.Initial = delay
	p.Max = 0
	p.Multiplier = 1.0
	return p
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	var b backoff.BackOff
	switch {
	case p.Initial <= 0:
		b = &backoff.ZeroBackOff{}
	case p.Multiplier > 1:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Initial
		eb.Multiplier = p.Multiplier
		if p.Max > 0 {
			eb.MaxInterval = p.Max
		}
		eb.MaxElapsedTime = 0 // bounded by attempts, not wall time
		b = eb
	default:
		b = backoff.NewConstantBackOff(p.Initial)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// WithRetry wraps a blocking action so that failures are retried under the
// given policy. The wrapped action still runs inside the blocking batch:
// the pipeline waits for all attempts, and the last attempt's error is what
// reaches the Send future if every try fails.
func WithRetry[C any](action Action[C], policy RetryPolicy) Action[C] {
	return func(ctx *C, event Event) (any, error) {
		var value any
		op := func() error {
			v, err := action(ctx, event)
			if err != nil {
				return err
			}
			value = v
			return nil
		}
		if err := backoff.Retry(op, policy.newBackOff()); err != nil {
			return nil, err
		}
		return value, nil
	}
}
