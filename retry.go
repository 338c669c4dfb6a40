package goflow

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the execute phase of a node. MaxRetries counts every
// attempt, the first one included; Wait is slept between attempts.
type RetryPolicy struct {
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	Wait       time.Duration `yaml:"wait" mapstructure:"wait"`
}

// DefaultRetryPolicy tries once and never waits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1}
}

// Validate rejects policies with no attempts or a negative wait.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1, got %d", ErrInvalidRetryPolicy, p.MaxRetries)
	}
	if p.Wait < 0 {
		return fmt.Errorf("%w: wait cannot be negative, got %s", ErrInvalidRetryPolicy, p.Wait)
	}
	return nil
}

// attempts normalises a zero-valued policy to a single attempt.
func (p RetryPolicy) attempts() int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}

// Clock sleeps between retry attempts. Tests substitute a fake to observe
// waits without spending wall time.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock sleeps on a real timer and wakes early when ctx is done.
type SystemClock struct{}

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
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
