package nodes

import (
	"context"
	"fmt"

	"github.com/forechoandlook/goflow"
	"golang.org/x/sync/errgroup"
)

type (
	PrepItemsFunc    func(ctx context.Context, shared *goflow.Shared) ([]any, error)
	ExecItemFunc     func(ctx context.Context, item any) (any, error)
	ItemFallbackFunc func(ctx context.Context, item any, err error) (any, error)
	PostBatchFunc    func(ctx context.Context, shared *goflow.Shared, items, results []any) (goflow.Action, error)
)

// BatchNode runs the execute phase once per item produced by prep. Each
// item gets its own retry loop and fallback; results keep input order.
//
// The first item that cannot be recovered aborts the batch and no later
// item is started. With Concurrency above one, items run on a pool of that
// many workers and a failure cancels the items still in flight.
type BatchNode struct {
	*BaseNode
	concurrency int

	prepItems    PrepItemsFunc
	execItem     ExecItemFunc
	itemFallback ItemFallbackFunc
	post         PostBatchFunc
}

// NewBatchNode creates a batch node whose default item step passes items
// through unchanged.
func NewBatchNode(id string, opts ...Option) *BatchNode {
	return &BatchNode{BaseNode: NewBaseNode(id, opts...), concurrency: 1}
}

// WithConcurrency bounds the number of items processed at once.
func (n *BatchNode) WithConcurrency(workers int) *BatchNode {
	if workers < 1 {
		workers = 1
	}
	n.concurrency = workers
	return n
}

func (n *BatchNode) Concurrency() int {
	return n.concurrency
}

func (n *BatchNode) OnPrepItems(fn PrepItemsFunc) *BatchNode {
	n.prepItems = fn
	return n
}

func (n *BatchNode) OnExecItem(fn ExecItemFunc) *BatchNode {
	n.execItem = fn
	return n
}

func (n *BatchNode) OnItemFallback(fn ItemFallbackFunc) *BatchNode {
	n.itemFallback = fn
	return n
}

func (n *BatchNode) OnPost(fn PostBatchFunc) *BatchNode {
	n.post = fn
	return n
}

// Prep returns the item sequence as []any.
func (n *BatchNode) Prep(ctx context.Context, shared *goflow.Shared) (any, error) {
	if n.prepItems == nil {
		return []any(nil), nil
	}
	return n.prepItems(ctx, shared)
}

// Exec processes every item on a default runtime. Flows call ExecBatch
// instead so retries share the flow's clock and observers.
func (n *BatchNode) Exec(ctx context.Context, prep any) (any, error) {
	return n.ExecBatch(ctx, goflow.NewRuntime(nil), prep)
}

// ExecItem runs a single item attempt.
func (n *BatchNode) ExecItem(ctx context.Context, item any) (any, error) {
	if n.execItem == nil {
		return item, nil
	}
	return n.execItem(ctx, item)
}

// ExecItemFallback re-raises by default.
func (n *BatchNode) ExecItemFallback(ctx context.Context, item any, err error) (any, error) {
	if n.itemFallback == nil {
		return nil, err
	}
	return n.itemFallback(ctx, item, err)
}

// ExecBatch implements goflow.BatchExecutor.
func (n *BatchNode) ExecBatch(ctx context.Context, rt *goflow.Runtime, prep any) (any, error) {
	items, err := asItems(prep)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(items))
	policy := n.RetryPolicy()

	runItem := func(ctx context.Context, i int) error {
		item := items[i]
		result, _, err := rt.Execute(ctx, n.Name(), i, policy,
			func(ctx context.Context) (any, error) { return n.ExecItem(ctx, item) },
			func(ctx context.Context, err error) (any, error) { return n.ExecItemFallback(ctx, item, err) },
		)
		if err != nil {
			return err
		}
		results[i] = result
		return nil
	}

	if n.concurrency <= 1 {
		for i := range items {
			if err := runItem(ctx, i); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return runItem(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Post hands the items and their results to the post callback.
func (n *BatchNode) Post(ctx context.Context, shared *goflow.Shared, prep, exec any) (goflow.Action, error) {
	if n.post == nil {
		return goflow.NoAction, nil
	}
	items, _ := prep.([]any)
	results, _ := exec.([]any)
	return n.post(ctx, shared, items, results)
}

func asItems(prep any) ([]any, error) {
	switch v := prep.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, &goflow.TypeMismatchError{Key: "<prep>", Expected: "[]interface {}", Actual: fmt.Sprintf("%T", prep)}
	}
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "batch",
		Description: "Runs the exec phase per item with per-item retry and fallback; optional bounded concurrency.",
		Example:     `nodes.NewBatchNode("embed", nodes.WithRetry(3, time.Second)).OnPrepItems(loadChunks).OnExecItem(embedChunk).WithConcurrency(4)`,
	})
}
