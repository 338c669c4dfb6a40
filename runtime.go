package goflow

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// AttemptEvent describes a failed attempt or a fallback invocation. Item is
// -1 outside batch nodes.
type AttemptEvent struct {
	Node    string
	Item    int
	Attempt int
	Err     error
}

// Observer receives retry bookkeeping from a Runtime. Implementations must
// be safe for concurrent use when batch concurrency is enabled.
type Observer interface {
	OnRetry(ctx context.Context, ev AttemptEvent)
	OnFallback(ctx context.Context, ev AttemptEvent)
}

// Runtime executes node cycles. The zero value is usable: it sleeps on the
// system clock and logs nothing.
type Runtime struct {
	Clock    Clock
	Logger   *zap.Logger
	Observer Observer
}

// NewRuntime returns a Runtime on the system clock.
func NewRuntime(logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{Clock: SystemClock{}, Logger: logger}
}

func (rt *Runtime) clock() Clock {
	if rt == nil || rt.Clock == nil {
		return SystemClock{}
	}
	return rt.Clock
}

func (rt *Runtime) logger() *zap.Logger {
	if rt == nil || rt.Logger == nil {
		return zap.NewNop()
	}
	return rt.Logger
}

func (rt *Runtime) observer() Observer {
	if rt == nil {
		return nil
	}
	return rt.Observer
}

// ExecFunc performs one attempt of an execute phase.
type ExecFunc func(ctx context.Context) (any, error)

// FallbackFunc recovers from the last attempt's error.
type FallbackFunc func(ctx context.Context, err error) (any, error)

// Execute runs exec up to policy.MaxRetries times, sleeping policy.Wait
// between attempts, then hands the last error to fallback. It returns the
// result and the number of exec attempts made.
//
// Type mismatches are returned as-is without retry or fallback. A done
// context stops the loop with ctx.Err(). A failing fallback yields a
// *FallbackError.
func (rt *Runtime) Execute(ctx context.Context, node string, item int, policy RetryPolicy, exec ExecFunc, fallback FallbackFunc) (any, int, error) {
	maxAttempts := policy.attempts()
	log := rt.logger()
	obs := rt.observer()

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}
		attempt++

		result, err := exec(ctx)
		if err == nil {
			return result, attempt, nil
		}
		if errors.Is(err, ErrTypeMismatch) {
			return nil, attempt, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, attempt, err
		}
		lastErr = err

		if attempt >= maxAttempts {
			break
		}

		log.Debug("exec attempt failed, retrying",
			zap.String("node", node),
			zap.Int("item", item),
			zap.Int("attempt", attempt),
			zap.Duration("wait", policy.Wait),
			zap.Error(err))
		if obs != nil {
			obs.OnRetry(ctx, AttemptEvent{Node: node, Item: item, Attempt: attempt, Err: err})
		}

		if policy.Wait > 0 {
			if err := rt.clock().Sleep(ctx, policy.Wait); err != nil {
				return nil, attempt, err
			}
		}
	}

	log.Debug("retries exhausted, running fallback",
		zap.String("node", node),
		zap.Int("item", item),
		zap.Int("attempts", attempt),
		zap.Error(lastErr))
	if obs != nil {
		obs.OnFallback(ctx, AttemptEvent{Node: node, Item: item, Attempt: attempt, Err: lastErr})
	}

	if fallback == nil {
		return nil, attempt, &FallbackError{Node: node, Item: item, Attempts: attempt, Err: lastErr}
	}
	result, err := fallback(ctx, lastErr)
	if err != nil {
		return nil, attempt, &FallbackError{Node: node, Item: item, Attempts: attempt, Err: err}
	}
	return result, attempt, nil
}

// RunNode performs one full cycle of node against shared and returns the
// action chosen by Post. Successors are not followed.
//
// The params visible to the node are its own params overlaid with any
// params already attached to ctx.
func (rt *Runtime) RunNode(ctx context.Context, node Node, shared *Shared) (Action, error) {
	name := node.Name()
	ctx = WithParams(ctx, node.Params().Merge(ParamsFrom(ctx)))

	prep, err := node.Prep(ctx, shared)
	if err != nil {
		return NoAction, &PhaseError{Node: name, Phase: PhasePrep, Err: err}
	}

	var result any
	if batch, ok := node.(BatchExecutor); ok {
		result, err = batch.ExecBatch(ctx, rt, prep)
	} else {
		result, _, err = rt.Execute(ctx, name, -1, node.RetryPolicy(),
			func(ctx context.Context) (any, error) { return node.Exec(ctx, prep) },
			func(ctx context.Context, err error) (any, error) { return node.ExecFallback(ctx, prep, err) },
		)
	}
	if err != nil {
		var fb *FallbackError
		if errors.As(err, &fb) {
			return NoAction, err
		}
		return NoAction, &PhaseError{Node: name, Phase: PhaseExec, Err: err}
	}

	action, err := node.Post(ctx, shared, prep, result)
	if err != nil {
		return NoAction, &PhaseError{Node: name, Phase: PhasePost, Err: err}
	}
	return action, nil
}
