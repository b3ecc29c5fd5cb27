package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// APIBackoff returns the retry schedule for external API calls: capped
// exponential starting at base, at most maxRetries retries after the first
// attempt.
func APIBackoff(base time.Duration, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxElapsedTime = 0
	if maxRetries < 0 {
		maxRetries = 0
	}
	return backoff.WithMaxRetries(b, uint64(maxRetries))
}

// Do runs op under the given schedule, stopping early when ctx is done.
// Errors wrapped with Permanent abort immediately.
func Do(ctx context.Context, b backoff.BackOff, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
