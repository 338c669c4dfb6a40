package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forechoandlook/goflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFunctionNode(t *testing.T) {
	node := NewFunctionNode("mark", func(_ context.Context, shared *goflow.Shared) (goflow.Action, error) {
		shared.Set("marked", true)
		return goflow.ActionNext, nil
	})

	shared := goflow.NewShared(nil)
	action, err := Run(context.Background(), node, shared)
	require.NoError(t, err)
	assert.Equal(t, goflow.ActionNext, action)
	assert.True(t, goflow.MustGet[bool](shared, "marked"))
}

func TestFuncNodeFallbackRecovers(t *testing.T) {
	node := NewFuncNode("recover", WithRetry(2, 0)).
		OnPrep(func(context.Context, *goflow.Shared) (any, error) { return "question", nil }).
		OnExec(func(context.Context, any) (any, error) { return nil, errors.New("offline") }).
		OnFallback(func(_ context.Context, prep any, err error) (any, error) {
			return prep.(string) + ": cached answer after " + err.Error(), nil
		}).
		OnPost(func(_ context.Context, shared *goflow.Shared, _, exec any) (goflow.Action, error) {
			shared.Set("answer", exec)
			return goflow.NoAction, nil
		})

	shared := goflow.NewShared(nil)
	_, err := Run(context.Background(), node, shared)
	require.NoError(t, err)
	assert.Equal(t, "question: cached answer after offline", goflow.MustGet[string](shared, "answer"))
}

func TestSetNode(t *testing.T) {
	shared := goflow.NewShared(nil)
	_, err := Run(context.Background(), NewSetNode("seed", "n", 5), shared)
	require.NoError(t, err)
	assert.Equal(t, 5, goflow.MustGet[int](shared, "n"))
}

func TestLoopNodeCounts(t *testing.T) {
	loop := NewLoopNode("loop", 3)
	shared := goflow.NewShared(nil)
	ctx := context.Background()

	var actions []goflow.Action
	for range 3 {
		action, err := Run(ctx, loop, shared)
		require.NoError(t, err)
		actions = append(actions, action)
	}

	assert.Equal(t, []goflow.Action{goflow.ActionContinue, goflow.ActionContinue, goflow.NoAction}, actions)
	assert.Equal(t, 3, goflow.MustGet[int](shared, "loop_iterations"))
}

func TestLoopNodeRejectsForeignCounter(t *testing.T) {
	shared := goflow.NewShared(map[string]any{"loop_iterations": "three"})
	_, err := Run(context.Background(), NewLoopNode("loop", 3), shared)
	assert.ErrorIs(t, err, goflow.ErrTypeMismatch)
}

func TestDelayNodeDurationParam(t *testing.T) {
	node := NewDelayNode("wait", time.Hour, WithParams(goflow.Params{"duration": time.Millisecond}))
	start := time.Now()
	_, err := Run(context.Background(), node, goflow.NewShared(nil))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Minute)

	for name, value := range map[string]any{"string": "1ms", "zero int": 0} {
		node := NewDelayNode("wait-"+name, time.Hour, WithParams(goflow.Params{"duration": value}))
		start := time.Now()
		_, err := Run(context.Background(), node, goflow.NewShared(nil))
		require.NoError(t, err, name)
		assert.Less(t, time.Since(start), time.Minute, name)
	}

	bad := NewDelayNode("bad", 0, WithParams(goflow.Params{"duration": "soon"}))
	_, err = Run(context.Background(), bad, goflow.NewShared(nil))
	assert.ErrorIs(t, err, goflow.ErrTypeMismatch)
}

func TestDelayNodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, NewDelayNode("wait", time.Hour), goflow.NewShared(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoggerNode(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	node := NewLoggerNode("log", zap.New(core), "state", "a", "missing")

	_, err := Run(context.Background(), node, goflow.NewShared(map[string]any{"a": 1, "b": 2}))
	require.NoError(t, err)

	entries := logs.FilterMessage("state").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "log", fields["node"])
	assert.EqualValues(t, 1, fields["a"])
	assert.NotContains(t, fields, "b")
	assert.NotContains(t, fields, "missing")
}

type runnerFunc func(ctx context.Context, shared *goflow.Shared) (goflow.Action, error)

func (f runnerFunc) Run(ctx context.Context, shared *goflow.Shared) (goflow.Action, error) {
	return f(ctx, shared)
}

func TestSubFlowNode(t *testing.T) {
	inner := runnerFunc(func(_ context.Context, shared *goflow.Shared) (goflow.Action, error) {
		shared.Set("inner", true)
		return "approved", nil
	})

	shared := goflow.NewShared(nil)
	action, err := Run(context.Background(), NewSubFlowNode("review", inner), shared)
	require.NoError(t, err)
	assert.Equal(t, goflow.Action("approved"), action)
	assert.True(t, goflow.MustGet[bool](shared, "inner"))

	_, err = Run(context.Background(), NewSubFlowNode("empty", nil), shared)
	assert.Error(t, err)
}

func TestSubFlowNodeRunsNestedFlowOnce(t *testing.T) {
	runs := 0
	failing := runnerFunc(func(context.Context, *goflow.Shared) (goflow.Action, error) {
		runs++
		return goflow.NoAction, &goflow.FallbackError{Node: "inner", Item: -1, Attempts: 1, Err: errors.New("permanent")}
	})
	node := NewSubFlowNode("sub", failing, WithRetry(3, time.Millisecond))

	_, err := Run(context.Background(), node, goflow.NewShared(nil))
	require.ErrorIs(t, err, goflow.ErrFallbackFailed)
	assert.Equal(t, 1, runs)
}
