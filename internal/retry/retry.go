// Package retry runs an action until it succeeds under a fixed-delay policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// DefaultDelay is the pause between recovery attempts.
const DefaultDelay = 100 * time.Millisecond

type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return fmt.Sprintf("non-retryable: %v", e.Err) }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable marks err so Do returns it without another attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Policy is a fixed-delay retry policy.
type Policy struct {
	Delay time.Duration
	// MaxAttempts bounds the number of calls; 0 retries until success or
	// context cancellation.
	MaxAttempts int
	// Jitter adds a random extra pause in [0, Jitter).
	Jitter time.Duration
	// OnRetry, when set, is called after each failed attempt that will be
	// retried.
	OnRetry func(attempt int, err error)
}

// Unbounded returns the default recovery policy.
func Unbounded() Policy { return Policy{Delay: DefaultDelay} }

func (p Policy) Validate() error {
	if p.Delay < 0 {
		return errors.New("retry: Delay cannot be negative")
	}
	if p.Jitter < 0 {
		return errors.New("retry: Jitter cannot be negative")
	}
	if p.MaxAttempts < 0 {
		return errors.New("retry: MaxAttempts cannot be negative")
	}
	return nil
}

func (p Policy) pause() time.Duration {
	d := p.Delay
	if p.Jitter > 0 {
		randMu.Lock()
		d += time.Duration(randSource.Int63n(int64(p.Jitter)))
		randMu.Unlock()
	}
	return d
}

// Do calls fn until it returns nil, returns a non-retryable error, the
// attempt bound is reached, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; p.MaxAttempts == 0 || attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if p.MaxAttempts != 0 && attempt == p.MaxAttempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		timer := time.NewTimer(p.pause())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("retry failed after %d attempts: %w", p.MaxAttempts, lastErr)
}
