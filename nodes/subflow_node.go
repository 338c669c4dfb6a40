package nodes

import (
	"context"
	"fmt"

	"github.com/forechoandlook/goflow"
)

// SubFlowNode runs a nested flow against the same shared store and uses
// the nested flow's final action as its own.
//
// The nested flow runs once, from Post. Its nodes carry their own retry
// policies, so the node's RetryPolicy and ExecFallback never apply to it
// and a fatal failure inside the nested flow aborts the enclosing run.
type SubFlowNode struct {
	*BaseNode
	flow FlowRunner
}

func NewSubFlowNode(id string, flow FlowRunner, opts ...Option) *SubFlowNode {
	return &SubFlowNode{BaseNode: NewBaseNode(id, opts...), flow: flow}
}

func (n *SubFlowNode) Prep(context.Context, *goflow.Shared) (any, error) {
	if n.flow == nil {
		return nil, fmt.Errorf("sub-flow node %s has no flow", n.Name())
	}
	return nil, nil
}

func (n *SubFlowNode) Post(ctx context.Context, shared *goflow.Shared, _, _ any) (goflow.Action, error) {
	return n.flow.Run(ctx, shared)
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "subflow",
		Description: "Runs a nested flow once on the same shared state and returns its final action.",
		Example:     `nodes.NewSubFlowNode("review", reviewFlow)`,
	})
}
