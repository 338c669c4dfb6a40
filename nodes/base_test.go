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
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBaseNodeDefaults(t *testing.T) {
	n := NewBaseNode("plain")
	ctx := context.Background()
	shared := goflow.NewShared(nil)

	prep, err := n.Prep(ctx, shared)
	require.NoError(t, err)
	assert.Nil(t, prep)

	exec, err := n.Exec(ctx, prep)
	require.NoError(t, err)
	assert.Nil(t, exec)

	cause := errors.New("boom")
	_, err = n.ExecFallback(ctx, nil, cause)
	assert.Same(t, cause, err)

	action, err := n.Post(ctx, shared, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, goflow.NoAction, action)

	assert.Equal(t, goflow.DefaultRetryPolicy(), n.RetryPolicy())
	assert.Empty(t, n.Params())
	assert.Zero(t, n.Successors().Len())
}

func TestWithRetryRejectsInvalidPolicy(t *testing.T) {
	assert.Panics(t, func() { WithRetry(0, 0) })
	assert.Panics(t, func() { WithRetry(1, -time.Second) })

	n := NewBaseNode("r", WithRetry(3, time.Second))
	assert.Equal(t, goflow.RetryPolicy{MaxRetries: 3, Wait: time.Second}, n.RetryPolicy())

	err := n.SetRetryPolicy(goflow.RetryPolicy{})
	assert.ErrorIs(t, err, goflow.ErrInvalidRetryPolicy)
	assert.Equal(t, 3, n.RetryPolicy().MaxRetries)
}

func TestBaseNodeParamsAreCopied(t *testing.T) {
	src := goflow.Params{"k": "v"}
	n := NewBaseNode("p", WithParams(src))
	src["k"] = "changed"
	assert.Equal(t, "v", n.Params()["k"])

	got := n.Params()
	got["k"] = "mutated"
	assert.Equal(t, "v", n.Params()["k"])

	n.SetParams(goflow.Params{"other": 1})
	assert.Equal(t, goflow.Params{"other": 1}, n.Params())
}

func TestConnectOnReplacesAndWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	a := NewBaseNode("a", WithLogger(zap.New(core)))
	b := NewBaseNode("b")
	c := NewBaseNode("c")

	assert.Same(t, b, a.ConnectOn("go", b))
	a.ConnectOn("go", c)

	next, ok := a.Next("go")
	require.True(t, ok)
	assert.Same(t, c, next)
	assert.Equal(t, 1, logs.FilterMessage("overwriting successor").Len())

	a.Connect(b)
	next, ok = a.Next(goflow.NoAction)
	require.True(t, ok)
	assert.Same(t, b, next)

	assert.Panics(t, func() { a.ConnectOn("nil", nil) })
}

func TestRegisteredNodesSorted(t *testing.T) {
	defs := RegisteredNodes()
	require.NotEmpty(t, defs)
	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].ID, defs[i].ID)
	}

	for _, id := range []string{"batch", "function", "set", "delay", "loop", "logger", "llm", "llm_router", "http", "shell", "kv_read", "kv_write", "subflow"} {
		_, ok := NodeDefinitionFor(id)
		assert.True(t, ok, id)
	}

	// Only Go-constructed nodes lack a DSL form.
	for _, def := range defs {
		switch def.ID {
		case "batch", "function", "subflow":
			assert.Empty(t, def.DSL, def.ID)
		default:
			assert.Contains(t, def.DSL, "node <id> = "+def.ID, def.ID)
		}
	}
}
