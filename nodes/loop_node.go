package nodes

import (
	"context"
	"fmt"

	"github.com/forechoandlook/goflow"
)

// LoopNode counts its visits in shared state under CounterKey. It returns
// ActionContinue until maxIterations visits have happened, then the absent
// action. Wire "continue" back to the loop body to build a bounded cycle.
type LoopNode struct {
	*BaseNode
	maxIterations int
	CounterKey    string
}

func NewLoopNode(name string, maxIterations int, opts ...Option) *LoopNode {
	return &LoopNode{
		BaseNode:      NewBaseNode(name, opts...),
		maxIterations: maxIterations,
		CounterKey:    fmt.Sprintf("%s_iterations", name),
	}
}

func (l *LoopNode) Post(ctx context.Context, shared *goflow.Shared, _, _ any) (goflow.Action, error) {
	count, err := goflow.GetOr(shared, l.CounterKey, 0)
	if err != nil {
		return goflow.NoAction, err
	}
	count++
	shared.Set(l.CounterKey, count)
	if count >= l.maxIterations {
		return goflow.NoAction, nil
	}
	return goflow.ActionContinue, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "loop",
		Description: "Counts visits and emits continue until the iteration limit is reached.",
		DSL:         `node <id> = loop <iterations>`,
		Example:     `nodes.NewLoopNode("retry", 3)`,
	})
}
