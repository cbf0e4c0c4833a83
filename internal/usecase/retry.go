package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/catalogsync/importer/internal/domain"
)

// RetryPolicy is the single retry rule applied to catalog writes
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries transient failures three times starting at 500ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Retryable:   domain.IsTransient,
	}
}

// Backoff returns the delay after the given failed attempt (1-based): base, 2×base, 4×base...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// It returns the number of attempts made. A cancelled context during backoff
// returns an error wrapping ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsTransient
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if !retryable(err) || attempt == maxAttempts {
			return attempt, err
		}
		if serr := sleepContext(ctx, p.Backoff(attempt)); serr != nil {
			return attempt, fmt.Errorf("%w: %v", serr, err)
		}
	}
	return maxAttempts, err
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
