package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	maxDelay           = 60 * time.Second
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("max retries exceeded")

// Delayer is implemented by errors that carry a server-requested wait,
// such as an HTTP 429 with a Retry-After header.
type Delayer interface {
	RetryAfter() time.Duration
}

// Policy controls how an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable reports whether err is transient. Nil means every error is.
	Retryable func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns the policy used for API page fetches and uploads.
func Default() Policy {
	return Policy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay}
}

// Do runs operation until it succeeds, fails with a non-retryable error,
// runs out of attempts, or ctx is done.
func (p Policy) Do(ctx context.Context, operation func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w: %w", err, lastErr)
			}
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		lastErr = err

		// Don't sleep on the last attempt
		if attempt == attempts-1 {
			break
		}

		delay := p.backoff(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func (p Policy) backoff(attempt int, err error) time.Duration {
	var d Delayer
	if errors.As(err, &d) {
		if wait := d.RetryAfter(); wait > 0 {
			return min(wait, maxDelay)
		}
	}
	base := p.BaseDelay
	if base < 0 {
		base = 0
	}
	delay := time.Duration(math.Pow(2, float64(attempt))) * base
	return min(delay, maxDelay)
}
