package flows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func paramSets(sets ...goflow.Params) PrepBatchFunc {
	return func(context.Context, *goflow.Shared) ([]goflow.Params, error) {
		return sets, nil
	}
}

// greeter records "<greeting> <name>" for each run into shared "out".
func greeter(opts ...nodes.Option) *nodes.FuncNode {
	return nodes.NewFuncNode("greet", opts...).
		OnPrep(func(ctx context.Context, _ *goflow.Shared) (any, error) {
			greeting, err := goflow.Param[string](ctx, "greeting")
			if err != nil {
				return nil, err
			}
			name, err := goflow.Param[string](ctx, "name")
			if err != nil {
				return nil, err
			}
			return greeting + " " + name, nil
		}).
		OnPost(func(_ context.Context, shared *goflow.Shared, prep, _ any) (goflow.Action, error) {
			shared.Update("out", func(current any, _ bool) any {
				out, _ := current.([]string)
				return append(out, prep.(string))
			})
			return goflow.Action("greeted:" + prep.(string)), nil
		})
}

func TestBatchFlowRunsOncePerSet(t *testing.T) {
	flow := NewFlowBuilder(greeter(nodes.WithParams(goflow.Params{"greeting": "hi"}))).Build()
	batch := NewBatchFlow(flow, paramSets(
		goflow.Params{"name": "ada"},
		goflow.Params{"name": "bob", "greeting": "hey"},
		goflow.Params{"name": "cy"},
	))

	shared := goflow.NewShared(nil)
	actions, err := batch.RunAll(context.Background(), shared)
	require.NoError(t, err)

	assert.Equal(t, []string{"hi ada", "hey bob", "hi cy"}, goflow.MustGet[[]string](shared, "out"),
		"set values override node params and do not carry over")
	assert.Equal(t, []goflow.Action{"greeted:hi ada", "greeted:hey bob", "greeted:hi cy"}, actions)
}

func TestBatchFlowLayering(t *testing.T) {
	flow := NewFlowBuilder(greeter(nodes.WithParams(goflow.Params{"greeting": "node", "name": "node"}))).
		WithParams(goflow.Params{"greeting": "flow"}).
		Build()
	batch := NewBatchFlow(flow, paramSets(goflow.Params{"name": "set"}, goflow.Params{}))

	shared := goflow.NewShared(nil)
	_, err := batch.RunAll(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, []string{"flow set", "flow node"}, goflow.MustGet[[]string](shared, "out"))
}

func TestBatchFlowEmptySets(t *testing.T) {
	flow := NewFlow(greeter())
	actions, err := NewBatchFlow(flow, paramSets()).RunAll(context.Background(), goflow.NewShared(nil))
	require.NoError(t, err)
	assert.Empty(t, actions)

	actions, err = NewBatchFlow(flow, nil).RunAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestBatchFlowFailFast(t *testing.T) {
	var runs atomic.Int32
	node := nodes.NewFunctionNode("maybe-fail", func(ctx context.Context, _ *goflow.Shared) (goflow.Action, error) {
		runs.Add(1)
		if fail, _ := goflow.Param[bool](ctx, "fail"); fail {
			return goflow.NoAction, errors.New("bad set")
		}
		return goflow.NoAction, nil
	})
	batch := NewBatchFlow(NewFlow(node), paramSets(
		goflow.Params{"fail": false},
		goflow.Params{"fail": true},
		goflow.Params{"fail": false},
	))

	actions, err := batch.RunAll(context.Background(), goflow.NewShared(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch iteration 1")
	assert.Equal(t, int32(2), runs.Load())
	assert.Len(t, actions, 1)
}

func TestBatchFlowPrepError(t *testing.T) {
	cause := errors.New("no input")
	batch := NewBatchFlow(NewFlow(greeter()), func(context.Context, *goflow.Shared) ([]goflow.Params, error) {
		return nil, cause
	})
	_, err := batch.RunAll(context.Background(), goflow.NewShared(nil))
	require.ErrorIs(t, err, cause)

	var phaseErr *goflow.PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, goflow.PhasePrep, phaseErr.Phase)
}

func TestBatchFlowPostBatch(t *testing.T) {
	batch := NewBatchFlow(NewFlow(greeter()), paramSets(
		goflow.Params{"greeting": "hi", "name": "a"},
		goflow.Params{"greeting": "hi", "name": "b"},
	)).OnPostBatch(func(_ context.Context, shared *goflow.Shared, sets []goflow.Params, actions []goflow.Action) (goflow.Action, error) {
		shared.Set("count", len(actions))
		return goflow.Action(fmt.Sprintf("processed:%d", len(sets))), nil
	})

	shared := goflow.NewShared(nil)
	action, err := batch.Run(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, goflow.Action("processed:2"), action)
	assert.Equal(t, 2, goflow.MustGet[int](shared, "count"))
}

func TestBatchFlowRunWithoutPostBatch(t *testing.T) {
	batch := NewBatchFlow(NewFlow(greeter()), paramSets(goflow.Params{"greeting": "hi", "name": "a"}))
	action, err := batch.Run(context.Background(), goflow.NewShared(nil))
	require.NoError(t, err)
	assert.Equal(t, goflow.NoAction, action)
}

func TestBatchFlowConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	node := nodes.NewFuncNode("work").
		OnExec(func(ctx context.Context, _ any) (any, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return goflow.Param[int](ctx, "i")
		}).
		OnPost(func(_ context.Context, shared *goflow.Shared, _, exec any) (goflow.Action, error) {
			i := exec.(int)
			shared.Update("seen", func(current any, _ bool) any {
				seen, _ := current.([]int)
				return append(seen, i)
			})
			return goflow.Action(fmt.Sprint(i)), nil
		})

	var sets []goflow.Params
	for i := range 10 {
		sets = append(sets, goflow.Params{"i": i})
	}
	batch := NewBatchFlow(NewFlow(node), paramSets(sets...)).WithConcurrency(3)

	shared := goflow.NewShared(nil)
	actions, err := batch.RunAll(context.Background(), shared)
	require.NoError(t, err)

	for i, a := range actions {
		assert.Equal(t, goflow.Action(fmt.Sprint(i)), a, "actions keep set order")
	}
	seen := goflow.MustGet[[]int](shared, "seen")
	sort.Ints(seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBatchFlowIterationEvents(t *testing.T) {
	monitor := &recordingMonitor{}
	flow := NewFlowBuilder(greeter()).WithMonitor(monitor).Build()
	batch := NewBatchFlow(flow, paramSets(
		goflow.Params{"greeting": "hi", "name": "a"},
		goflow.Params{"greeting": "hi", "name": "b"},
	))

	_, err := batch.RunAll(context.Background(), goflow.NewShared(nil))
	require.NoError(t, err)

	iterations := monitor.ofType(FlowEventTypeBatchIteration)
	require.Len(t, iterations, 2)
	assert.Equal(t, 0, iterations[0].Iteration)
	assert.Equal(t, "b", iterations[1].Params["name"])

	starts := monitor.ofType(FlowEventTypeFlowStart)
	require.Len(t, starts, 2)
	assert.NotEqual(t, starts[0].RunID, starts[1].RunID)
	assert.Equal(t, 1, starts[1].Iteration)
}

func TestBatchFlowNilFlow(t *testing.T) {
	_, err := NewBatchFlow(nil, paramSets(goflow.Params{})).RunAll(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoStartNode)
}

func TestBatchFlowOverrideProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nodeVal := rapid.IntRange(0, 100).Draw(t, "node")
		flowVal := rapid.IntRange(0, 100).Draw(t, "flow")
		useFlow := rapid.Bool().Draw(t, "use_flow")
		setVals := rapid.SliceOfN(rapid.Ptr(rapid.IntRange(0, 100), true), 1, 6).Draw(t, "sets")

		var got []int
		node := nodes.NewFuncNode("read", nodes.WithParams(goflow.Params{"v": nodeVal})).
			OnExec(func(ctx context.Context, _ any) (any, error) {
				v, err := goflow.Param[int](ctx, "v")
				got = append(got, v)
				return nil, err
			})
		builder := NewFlowBuilder(node)
		if useFlow {
			builder.WithParams(goflow.Params{"v": flowVal})
		}

		sets := make([]goflow.Params, len(setVals))
		want := make([]int, len(setVals))
		for i, sv := range setVals {
			sets[i] = goflow.Params{}
			want[i] = nodeVal
			if useFlow {
				want[i] = flowVal
			}
			if sv != nil {
				sets[i]["v"] = *sv
				want[i] = *sv
			}
		}

		if _, err := NewBatchFlow(builder.Build(), paramSets(sets...)).RunAll(context.Background(), nil); err != nil {
			t.Fatalf("run: %v", err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("iteration %d: got %d want %d", i, got[i], want[i])
			}
		}
	})
}
