package flows

import (
	"context"
	"fmt"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/nodes"
	"golang.org/x/sync/errgroup"
)

// PrepBatchFunc produces one params set per run of the wrapped flow.
type PrepBatchFunc func(ctx context.Context, shared *goflow.Shared) ([]goflow.Params, error)

// PostBatchFunc picks the batch flow's own action once every iteration
// has finished.
type PostBatchFunc func(ctx context.Context, shared *goflow.Shared, sets []goflow.Params, actions []goflow.Action) (goflow.Action, error)

// BatchFlow runs a flow once per params set, always against the same
// shared store so state can accumulate across iterations.
//
// Params are layered with later layers winning: each node's own params,
// then the wrapped flow's params, then the iteration's set. Every set is
// applied on its own; nothing carries over from the previous iteration.
//
// Iterations run in order and the first failure stops the batch. With
// Concurrency above one, iterations share a bounded worker pool and a
// failure cancels the iterations in flight.
type BatchFlow struct {
	flow        *Flow
	prepBatch   PrepBatchFunc
	postBatch   PostBatchFunc
	concurrency int
}

func NewBatchFlow(flow *Flow, prepBatch PrepBatchFunc) *BatchFlow {
	return &BatchFlow{flow: flow, prepBatch: prepBatch, concurrency: 1}
}

// WithConcurrency bounds the number of iterations running at once.
func (bf *BatchFlow) WithConcurrency(workers int) *BatchFlow {
	if workers < 1 {
		workers = 1
	}
	bf.concurrency = workers
	return bf
}

// OnPostBatch sets the callback deciding the batch flow's final action.
func (bf *BatchFlow) OnPostBatch(fn PostBatchFunc) *BatchFlow {
	bf.postBatch = fn
	return bf
}

// Flow returns the wrapped flow.
func (bf *BatchFlow) Flow() *Flow {
	return bf.flow
}

// RunAll executes every iteration and returns the action each one ended
// with, in params set order. On failure the actions of the iterations
// that completed before it are returned with the error when running
// sequentially.
func (bf *BatchFlow) RunAll(ctx context.Context, shared *goflow.Shared) ([]goflow.Action, error) {
	if shared == nil {
		shared = goflow.NewShared(nil)
	}
	_, actions, err := bf.runCollect(ctx, shared)
	return actions, err
}

func (bf *BatchFlow) runCollect(ctx context.Context, shared *goflow.Shared) ([]goflow.Params, []goflow.Action, error) {
	if bf.flow == nil || bf.flow.GetStartNode() == nil {
		return nil, nil, ErrNoStartNode
	}

	var sets []goflow.Params
	if bf.prepBatch != nil {
		var err error
		sets, err = bf.prepBatch(ctx, shared)
		if err != nil {
			return nil, nil, &goflow.PhaseError{Node: bf.flow.Name(), Phase: goflow.PhasePrep, Err: err}
		}
	}

	actions := make([]goflow.Action, len(sets))
	runIteration := func(ctx context.Context, i int) error {
		bf.flow.emitEvent(ctx, FlowEvent{
			Type:      FlowEventTypeBatchIteration,
			Node:      bf.flow.GetStartNode().Name(),
			Item:      -1,
			Iteration: i,
			Params:    sets[i].Clone(),
		})
		action, err := bf.flow.run(ctx, shared, runScope{params: sets[i], iteration: i})
		if err != nil {
			return fmt.Errorf("batch iteration %d: %w", i, err)
		}
		actions[i] = action
		return nil
	}

	if bf.concurrency <= 1 {
		for i := range sets {
			if err := ctx.Err(); err != nil {
				return sets, actions[:i], err
			}
			if err := runIteration(ctx, i); err != nil {
				return sets, actions[:i], err
			}
		}
		return sets, actions, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.concurrency)
	for i := range sets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return runIteration(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return sets, nil, err
	}
	return sets, actions, nil
}

// Run executes every iteration and returns the action chosen by the post
// batch callback, or NoAction when none is set. BatchFlow therefore also
// satisfies nodes.FlowRunner and can be nested with SubFlowNode.
func (bf *BatchFlow) Run(ctx context.Context, shared *goflow.Shared) (goflow.Action, error) {
	if shared == nil {
		shared = goflow.NewShared(nil)
	}
	sets, actions, err := bf.runCollect(ctx, shared)
	if err != nil {
		return goflow.NoAction, err
	}
	if bf.postBatch == nil {
		return goflow.NoAction, nil
	}
	action, err := bf.postBatch(ctx, shared, sets, actions)
	if err != nil {
		return goflow.NoAction, &goflow.PhaseError{Node: bf.flow.Name(), Phase: goflow.PhasePost, Err: err}
	}
	return action, nil
}

var _ nodes.FlowRunner = (*BatchFlow)(nil)
