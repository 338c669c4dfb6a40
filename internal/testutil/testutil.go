// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestContext returns a context that is cancelled when the test ends.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns a context that is already done.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// FakeClock records requested sleeps and returns at once. It satisfies
// goflow.Clock.
type FakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration

	// OnSleep runs before each recorded sleep returns. A cancel func
	// placed here simulates cancellation during a retry wait.
	OnSleep func()
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	hook := c.OnSleep
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return ctx.Err()
}

// Sleeps returns the durations requested so far.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Total returns the sum of requested sleeps.
func (c *FakeClock) Total() time.Duration {
	var total time.Duration
	for _, d := range c.Sleeps() {
		total += d
	}
	return total
}
