package utils_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/nodes"
	"github.com/forechoandlook/goflow/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout(t *testing.T) {
	err := utils.WithTimeout(context.Background(), 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = utils.WithTimeout(context.Background(), time.Second, func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	// fn ignoring its context does not hold the caller.
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	err = utils.WithTimeout(context.Background(), 5*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeoutDisabled(t *testing.T) {
	parent := goflow.WithParams(context.Background(), goflow.Params{"k": "v"})
	err := utils.WithTimeout(parent, 0, func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		assert.Equal(t, parent, ctx)
		return nil
	})
	assert.NoError(t, err)
}

func TestTimeoutNodeRetriesSlowAttempts(t *testing.T) {
	var attempts atomic.Int32
	inner := nodes.NewFuncNode("slow", nodes.WithRetry(3, 0)).
		OnExec(func(ctx context.Context, _ any) (any, error) {
			if attempts.Add(1) < 3 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "done", nil
		}).
		OnPost(func(_ context.Context, shared *goflow.Shared, _, exec any) (goflow.Action, error) {
			shared.Set("result", exec)
			return goflow.NoAction, nil
		})

	node := utils.WithTimeoutOnNode(inner, 5*time.Millisecond)
	assert.Equal(t, "slow", node.Name())
	assert.Same(t, inner.Successors(), node.Successors())

	shared := goflow.NewShared(nil)
	_, err := nodes.Run(context.Background(), node, shared)
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, "done", goflow.MustGet[string](shared, "result"))
}

func TestTimeoutNodeExhausted(t *testing.T) {
	inner := nodes.NewFuncNode("stuck", nodes.WithRetry(2, 0)).
		OnExec(func(ctx context.Context, _ any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := nodes.Run(context.Background(), utils.WithTimeoutOnNode(inner, time.Millisecond), goflow.NewShared(nil))
	require.ErrorIs(t, err, utils.ErrAttemptTimeout)
	assert.ErrorIs(t, err, goflow.ErrFallbackFailed)
}

func TestTimeoutNodeParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := nodes.NewFuncNode("wait").
		OnExec(func(ctx context.Context, _ any) (any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := utils.WithTimeoutOnNode(inner, time.Hour).Exec(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, utils.ErrAttemptTimeout)
}

func TestTimeoutNodePassesErrors(t *testing.T) {
	cause := errors.New("boom")
	inner := nodes.NewFuncNode("fail").
		OnExec(func(context.Context, any) (any, error) { return nil, cause })

	_, err := utils.WithTimeoutOnNode(inner, time.Second).Exec(context.Background(), nil)
	assert.Equal(t, cause, err)
}

func TestMergeParams(t *testing.T) {
	merged := utils.MergeParams(
		goflow.Params{"a": 1, "b": 1},
		nil,
		goflow.Params{"b": 2, "c": 2},
	)
	assert.Equal(t, goflow.Params{"a": 1, "b": 2, "c": 2}, merged)
	assert.Empty(t, utils.MergeParams())
}

func TestParseParamPairs(t *testing.T) {
	params, err := utils.ParseParamPairs([]string{"n=3", "name=ada", "url=http://x?a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, goflow.Params{"n": 3, "name": "ada", "url": "http://x?a=b", "empty": ""}, params)

	for _, bad := range []string{"novalue", "=v"} {
		_, err := utils.ParseParamPairs([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 42, utils.ParseValue("42"))
	assert.Equal(t, 1.5, utils.ParseValue("1.5"))
	assert.Equal(t, true, utils.ParseValue("TRUE"))
	assert.Equal(t, false, utils.ParseValue("false"))
	assert.Equal(t, 2*time.Second, utils.ParseValue("2s"))
	assert.Equal(t, "plain", utils.ParseValue("plain"))
}
