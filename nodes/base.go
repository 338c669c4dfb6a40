package nodes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forechoandlook/goflow"
	"go.uber.org/zap"
)

// BaseNode carries the bookkeeping every node needs: a name, params, a
// retry policy and the outgoing transition table. Concrete nodes embed it
// and override the phases they care about.
type BaseNode struct {
	name       string
	successors *goflow.Transitions
	logger     *zap.Logger

	mu     sync.RWMutex
	params goflow.Params
	retry  goflow.RetryPolicy
}

// Option configures a BaseNode.
type Option func(*BaseNode)

// WithRetry sets the retry policy. It panics on an invalid policy, which is
// a wiring mistake rather than a runtime condition.
func WithRetry(maxRetries int, wait time.Duration) Option {
	policy := goflow.RetryPolicy{MaxRetries: maxRetries, Wait: wait}
	if err := policy.Validate(); err != nil {
		panic(err)
	}
	return func(n *BaseNode) {
		n.retry = policy
	}
}

// WithParams attaches node params.
func WithParams(params goflow.Params) Option {
	return func(n *BaseNode) {
		n.params = params.Clone()
	}
}

// WithLogger sets the logger used for wiring diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(n *BaseNode) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewBaseNode builds a BaseNode with one attempt and no wait.
func NewBaseNode(name string, opts ...Option) *BaseNode {
	n := &BaseNode{
		name:       name,
		successors: goflow.NewTransitions(),
		logger:     zap.NewNop(),
		params:     goflow.Params{},
		retry:      goflow.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *BaseNode) Name() string {
	return n.name
}

func (n *BaseNode) Prep(ctx context.Context, shared *goflow.Shared) (any, error) {
	return nil, nil
}

func (n *BaseNode) Exec(ctx context.Context, prep any) (any, error) {
	return nil, nil
}

// ExecFallback re-raises the last error, making exhausted retries fatal.
func (n *BaseNode) ExecFallback(ctx context.Context, prep any, err error) (any, error) {
	return nil, err
}

func (n *BaseNode) Post(ctx context.Context, shared *goflow.Shared, prep, exec any) (goflow.Action, error) {
	return goflow.NoAction, nil
}

func (n *BaseNode) Params() goflow.Params {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.params.Clone()
}

func (n *BaseNode) SetParams(params goflow.Params) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.params = params.Clone()
}

func (n *BaseNode) RetryPolicy() goflow.RetryPolicy {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.retry
}

// SetRetryPolicy replaces the retry policy after validating it.
func (n *BaseNode) SetRetryPolicy(policy goflow.RetryPolicy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("node %s: %w", n.name, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.retry = policy
	return nil
}

func (n *BaseNode) Successors() *goflow.Transitions {
	return n.successors
}

// Connect registers next as the default successor and returns next.
func (n *BaseNode) Connect(next Node) Node {
	return n.ConnectOn(goflow.NoAction, next)
}

// ConnectOn registers next as the successor for action, replacing any
// earlier registration, and returns next.
func (n *BaseNode) ConnectOn(action goflow.Action, next Node) Node {
	if next == nil {
		panic(fmt.Sprintf("node %s: successor for action %s cannot be nil", n.name, action))
	}
	if previous := n.successors.Set(action, next); previous != nil && previous != next {
		n.logger.Warn("overwriting successor",
			zap.String("node", n.name),
			zap.Stringer("action", action),
			zap.String("previous", previous.Name()),
			zap.String("next", next.Name()))
	}
	return next
}

// Next returns the successor for action.
func (n *BaseNode) Next(action goflow.Action) (Node, bool) {
	return n.successors.Lookup(action)
}

// Run executes a single node cycle without following successors.
func Run(ctx context.Context, node Node, shared *goflow.Shared) (goflow.Action, error) {
	return goflow.NewRuntime(nil).RunNode(ctx, node, shared)
}
