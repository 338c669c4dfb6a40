package nodes

import (
	"context"

	"github.com/forechoandlook/goflow"
)

// Node is an alias for the core workflow node interface.
type Node = goflow.Node

// FlowRunner can execute a flow-like graph of nodes.
type FlowRunner interface {
	Run(ctx context.Context, shared *goflow.Shared) (goflow.Action, error)
}
