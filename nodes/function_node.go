package nodes

import (
	"context"

	"github.com/forechoandlook/goflow"
)

type (
	PrepFunc     func(ctx context.Context, shared *goflow.Shared) (any, error)
	ExecFunc     func(ctx context.Context, prep any) (any, error)
	FallbackFunc func(ctx context.Context, prep any, err error) (any, error)
	PostFunc     func(ctx context.Context, shared *goflow.Shared, prep, exec any) (goflow.Action, error)
)

// FuncNode wraps callbacks to satisfy the Node contract. Unset callbacks
// fall back to the BaseNode defaults.
type FuncNode struct {
	*BaseNode
	prep     PrepFunc
	exec     ExecFunc
	fallback FallbackFunc
	post     PostFunc
}

// NewFuncNode creates a node whose phases are supplied with the On* setters.
func NewFuncNode(id string, opts ...Option) *FuncNode {
	return &FuncNode{BaseNode: NewBaseNode(id, opts...)}
}

// NewFunctionNode wraps a single callback that reads and writes shared
// state and picks the next action. It runs as the post phase.
func NewFunctionNode(id string, fn func(ctx context.Context, shared *goflow.Shared) (goflow.Action, error), opts ...Option) *FuncNode {
	n := NewFuncNode(id, opts...)
	if fn != nil {
		n.post = func(ctx context.Context, shared *goflow.Shared, _, _ any) (goflow.Action, error) {
			return fn(ctx, shared)
		}
	}
	return n
}

func (n *FuncNode) OnPrep(fn PrepFunc) *FuncNode {
	n.prep = fn
	return n
}

func (n *FuncNode) OnExec(fn ExecFunc) *FuncNode {
	n.exec = fn
	return n
}

func (n *FuncNode) OnFallback(fn FallbackFunc) *FuncNode {
	n.fallback = fn
	return n
}

func (n *FuncNode) OnPost(fn PostFunc) *FuncNode {
	n.post = fn
	return n
}

func (n *FuncNode) Prep(ctx context.Context, shared *goflow.Shared) (any, error) {
	if n.prep == nil {
		return n.BaseNode.Prep(ctx, shared)
	}
	return n.prep(ctx, shared)
}

func (n *FuncNode) Exec(ctx context.Context, prep any) (any, error) {
	if n.exec == nil {
		return n.BaseNode.Exec(ctx, prep)
	}
	return n.exec(ctx, prep)
}

func (n *FuncNode) ExecFallback(ctx context.Context, prep any, err error) (any, error) {
	if n.fallback == nil {
		return n.BaseNode.ExecFallback(ctx, prep, err)
	}
	return n.fallback(ctx, prep, err)
}

func (n *FuncNode) Post(ctx context.Context, shared *goflow.Shared, prep, exec any) (goflow.Action, error) {
	if n.post == nil {
		return n.BaseNode.Post(ctx, shared, prep, exec)
	}
	return n.post(ctx, shared, prep, exec)
}

// NewSetNode stores a fixed value under key and follows the default
// transition.
func NewSetNode(id, key string, value any, opts ...Option) *FuncNode {
	return NewFunctionNode(id, func(_ context.Context, shared *goflow.Shared) (goflow.Action, error) {
		shared.Set(key, value)
		return goflow.NoAction, nil
	}, opts...)
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "function",
		Description: "Wraps Go callbacks for the prep, exec, fallback and post phases.",
		Example:     `nodes.NewFuncNode("clean").OnExec(func(ctx context.Context, prep any) (any, error) { return strings.TrimSpace(prep.(string)), nil })`,
	})
	RegisterNode(NodeDefinition{
		ID:          "set",
		Description: "Stores a constant value in shared state.",
		DSL:         `node <id> = set <key> <value>`,
		Example:     `nodes.NewSetNode("seed", "prompt", "translate to spanish")`,
	})
}
