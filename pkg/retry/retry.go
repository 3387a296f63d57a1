// Package retry centralizes the bounded exponential backoff policy shared
// by the inference client and the provider-apply path.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a reusable backoff configuration. The zero value is unusable;
// use DefaultPolicy or construct explicitly.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy retries three times starting at half a second.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Do runs op with exponential backoff until it succeeds, returns a
// permanent error, the retry budget is exhausted, or ctx is done. Wrap
// non-retryable failures with Permanent inside op to stop early.
func (p Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	return backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(b, ctx), p.MaxRetries))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
