package utils

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/forechoandlook/goflow"
)

type Node = goflow.Node

// WithTimeout runs fn with a context bounded by timeout. It returns as soon
// as the deadline passes even if fn ignores its context. A non-positive
// timeout runs fn with parentCtx unchanged.
func WithTimeout(parentCtx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(parentCtx)
	}
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// WithTimeoutOnNode bounds every exec attempt of node by timeout. A timed
// out attempt counts as a failure, so the node's retry policy and fallback
// still apply.
func WithTimeoutOnNode(node Node, timeout time.Duration) *TimeoutNode {
	return &TimeoutNode{
		Node:    node,
		Timeout: timeout,
	}
}

// TimeoutNode wraps another node with a per-attempt timeout. Everything
// except Exec is delegated, the successor table included, so the wrapper
// and the wrapped node share their transitions.
type TimeoutNode struct {
	Node
	Timeout time.Duration
}

// ErrAttemptTimeout is returned when an exec attempt exceeds its timeout.
var ErrAttemptTimeout = errors.New("exec attempt timed out")

func (tn *TimeoutNode) Exec(ctx context.Context, prep any) (any, error) {
	var result any
	err := WithTimeout(ctx, tn.Timeout, func(ctx context.Context) error {
		var err error
		result, err = tn.Node.Exec(ctx, prep)
		return err
	})
	if err != nil {
		// The parent being done is a cancellation, not a slow attempt.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("node %s: %w after %s", tn.Name(), ErrAttemptTimeout, tn.Timeout)
		}
		return nil, err
	}
	return result, nil
}

// MergeParams layers params with later layers overriding earlier ones.
func MergeParams(layers ...goflow.Params) goflow.Params {
	return goflow.Params{}.Merge(layers...)
}

// ParseParamPairs turns "key=value" strings into params, typing each
// value with ParseValue.
func ParseParamPairs(pairs []string) (goflow.Params, error) {
	params := goflow.Params{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, expected key=value", pair)
		}
		params[key] = ParseValue(value)
	}
	return params, nil
}

// ParseValue recognises int, float, bool and duration literals. Anything
// else is returned as the original string.
func ParseValue(raw string) any {
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return raw
}
