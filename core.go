package goflow

import "context"

// Action labels the transition a node selects after post-processing.
// The zero value NoAction selects the node's default successor.
type Action string

const (
	// NoAction is the absent action: follow the default transition, if any.
	NoAction Action = ""

	// Constants for common actions
	ActionContinue Action = "continue"
	ActionNext     Action = "next"
	ActionRetry    Action = "retry"
	ActionEnd      Action = "end"
)

// IsAbsent reports whether the action selects the default transition.
func (a Action) IsAbsent() bool {
	return a == NoAction
}

func (a Action) String() string {
	if a == NoAction {
		return "<default>"
	}
	return string(a)
}

// Node is a unit of work that can run inside a flow.
//
// A node cycle is Prep -> Exec (retried per RetryPolicy, then ExecFallback)
// -> Post. Prep and Post may touch the shared store; Exec only sees the
// value Prep produced. Params for the current run are available through
// ParamsFrom(ctx) in every phase.
type Node interface {
	Name() string
	Prep(ctx context.Context, shared *Shared) (any, error)
	Exec(ctx context.Context, prep any) (any, error)
	ExecFallback(ctx context.Context, prep any, err error) (any, error)
	Post(ctx context.Context, shared *Shared, prep, exec any) (Action, error)

	Params() Params
	SetParams(params Params)
	RetryPolicy() RetryPolicy
	Successors() *Transitions
}

// BatchExecutor is implemented by nodes that drive their own execute phase,
// retrying element by element instead of retrying Exec as a whole.
type BatchExecutor interface {
	ExecBatch(ctx context.Context, rt *Runtime, prep any) (any, error)
}
