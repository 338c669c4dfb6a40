package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/nodes"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrMaxStepsExceeded is returned when the opt-in step guard trips.
	ErrMaxStepsExceeded = errors.New("max steps exceeded")

	// ErrNoStartNode is returned by Run on a flow without a start node.
	ErrNoStartNode = errors.New("flow has no start node")
)

// FlowEventType enumerates observable lifecycle hooks emitted by a flow.
type FlowEventType string

const (
	FlowEventTypeFlowStart      FlowEventType = "flow_start"
	FlowEventTypeNodeStart      FlowEventType = "node_start"
	FlowEventTypeNodeEnd        FlowEventType = "node_end"
	FlowEventTypeNodeError      FlowEventType = "node_error"
	FlowEventTypeNodeRetry      FlowEventType = "node_retry"
	FlowEventTypeNodeFallback   FlowEventType = "node_fallback"
	FlowEventTypeFlowComplete   FlowEventType = "flow_complete"
	FlowEventTypeBatchIteration FlowEventType = "batch_iteration"
)

// FlowEvent carries metadata that observability hooks can use. Item is the
// batch element index for retry and fallback events of batch nodes and -1
// otherwise. Iteration is the BatchFlow parameter set index, -1 outside a
// batch flow.
type FlowEvent struct {
	Type      FlowEventType
	Timestamp time.Time
	RunID     string
	Flow      string
	Node      string
	Action    goflow.Action
	Err       error
	Attempt   int
	Item      int
	Step      int
	Iteration int
	Params    goflow.Params
}

// FlowMonitor observes lifecycle events emitted by Flow.Run(). Monitors
// attached to flows run by a concurrent BatchFlow must be safe for
// concurrent use.
type FlowMonitor interface {
	Notify(ctx context.Context, event FlowEvent)
}

type Node = goflow.Node

// FlowOption represents configuration options for a flow
type FlowOption struct {
	Name     string
	MaxSteps int
	Timeout  time.Duration
	Monitors []FlowMonitor
	Logger   *zap.Logger
	Clock    goflow.Clock
	Params   goflow.Params
}

// Flow walks a graph of nodes from a start node, following the transition
// selected by each node's action, until a node's action has no successor.
type Flow struct {
	name     string
	start    Node
	params   goflow.Params
	maxSteps int
	timeout  time.Duration
	clock    goflow.Clock
	logger   *zap.Logger
	mutex    sync.RWMutex

	currentNode Node // Track the current node for Then() method

	monitors   []FlowMonitor
	monitorMux sync.RWMutex
}

// FlowBuilder provides a fluent interface for building flows
type FlowBuilder struct {
	flow *Flow
}

func NewFlowBuilder(start Node) *FlowBuilder {
	flow := &Flow{
		start:       start,
		params:      goflow.Params{},
		clock:       goflow.SystemClock{},
		logger:      zap.NewNop(),
		currentNode: start,
	}
	if start != nil {
		flow.name = start.Name()
	}
	return &FlowBuilder{flow: flow}
}

func NewFlow(start Node) *Flow {
	return NewFlowBuilder(start).Build()
}

func NewFlowWithOptions(start Node, opts FlowOption) *Flow {
	return NewFlowBuilder(start).WithOptions(opts).Build()
}

// Then connects the most recently added node to next on the default
// transition.
func (fb *FlowBuilder) Then(next Node) *FlowBuilder {
	fb.flow.Then(next)
	return fb
}

// Connect defines a transition from one node to another based on action
func (fb *FlowBuilder) Connect(from Node, action goflow.Action, to Node) *FlowBuilder {
	fb.flow.Connect(from, action, to)
	return fb
}

// WithMonitor registers an observability hook for the flow.
func (fb *FlowBuilder) WithMonitor(monitor FlowMonitor) *FlowBuilder {
	fb.flow.AddMonitor(monitor)
	return fb
}

// WithMonitors registers multiple observability hooks for the flow.
func (fb *FlowBuilder) WithMonitors(monitors ...FlowMonitor) *FlowBuilder {
	for _, monitor := range monitors {
		fb.WithMonitor(monitor)
	}
	return fb
}

// WithOptions applies flow options
func (fb *FlowBuilder) WithOptions(opts FlowOption) *FlowBuilder {
	if opts.Name != "" {
		fb.flow.name = opts.Name
	}
	if opts.MaxSteps > 0 {
		fb.WithMaxSteps(opts.MaxSteps)
	}
	if len(opts.Monitors) > 0 {
		fb.WithMonitors(opts.Monitors...)
	}
	if opts.Logger != nil {
		fb.WithLogger(opts.Logger)
	}
	if opts.Clock != nil {
		fb.WithClock(opts.Clock)
	}
	if opts.Params != nil {
		fb.WithParams(opts.Params)
	}
	fb.flow.timeout = opts.Timeout
	return fb
}

// WithMaxSteps caps the number of node cycles per run. Zero, the default,
// means no cap: a graph that loops runs until an action finds no successor.
func (fb *FlowBuilder) WithMaxSteps(max int) *FlowBuilder {
	fb.flow.maxSteps = max
	return fb
}

// WithTimeout bounds a whole run.
func (fb *FlowBuilder) WithTimeout(timeout time.Duration) *FlowBuilder {
	fb.flow.timeout = timeout
	return fb
}

func (fb *FlowBuilder) WithLogger(logger *zap.Logger) *FlowBuilder {
	if logger != nil {
		fb.flow.logger = logger
	}
	return fb
}

// WithClock sets the clock used for retry waits.
func (fb *FlowBuilder) WithClock(clock goflow.Clock) *FlowBuilder {
	if clock != nil {
		fb.flow.clock = clock
	}
	return fb
}

// WithParams sets flow-level params, overlaid on every node's own params.
func (fb *FlowBuilder) WithParams(params goflow.Params) *FlowBuilder {
	fb.flow.SetParams(params)
	return fb
}

func (fb *FlowBuilder) WithName(name string) *FlowBuilder {
	fb.flow.name = name
	return fb
}

// Build returns the constructed flow
func (fb *FlowBuilder) Build() *Flow {
	return fb.flow
}

// AddMonitor registers a FlowMonitor for the flow.
func (f *Flow) AddMonitor(monitor FlowMonitor) *Flow {
	if monitor == nil {
		return f
	}
	f.monitorMux.Lock()
	f.monitors = append(f.monitors, monitor)
	f.monitorMux.Unlock()
	return f
}

// Connect registers to as from's successor for action. NoAction sets the
// default successor. An earlier registration for the same action is
// replaced and logged.
func (f *Flow) Connect(from Node, action goflow.Action, to Node) *Flow {
	if from == nil || to == nil {
		panic("flows: Connect requires non-nil nodes")
	}
	if previous := from.Successors().Set(action, to); previous != nil && previous != to {
		f.logger.Warn("overwriting successor",
			zap.String("node", from.Name()),
			zap.Stringer("action", action),
			zap.String("previous", previous.Name()),
			zap.String("next", to.Name()))
	}
	return f
}

// Then connects the most recently chained node to next on the default
// transition.
func (f *Flow) Then(next Node) *Flow {
	f.mutex.Lock()
	from := f.currentNode
	f.currentNode = next
	f.mutex.Unlock()

	return f.Connect(from, goflow.NoAction, next)
}

// Name returns the flow name, which defaults to the start node's name.
func (f *Flow) Name() string {
	return f.name
}

// Params returns a copy of the flow-level params.
func (f *Flow) Params() goflow.Params {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.params.Clone()
}

func (f *Flow) SetParams(params goflow.Params) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.params = params.Clone()
}

// GetStartNode returns the start node of the flow
func (f *Flow) GetStartNode() Node {
	return f.start
}

// Run executes the flow against shared and returns the last action
// produced. A fatal node error aborts the run and is returned unchanged.
func (f *Flow) Run(ctx context.Context, shared *goflow.Shared) (goflow.Action, error) {
	return f.run(ctx, shared, runScope{iteration: -1})
}

// RunWithID is Run with a caller-chosen run id, so events of a run started
// in the background can be looked up before it finishes.
func (f *Flow) RunWithID(ctx context.Context, runID string, shared *goflow.Shared) (goflow.Action, error) {
	return f.run(ctx, shared, runScope{iteration: -1, runID: runID})
}

type runScope struct {
	params    goflow.Params
	iteration int
	runID     string
}

func (f *Flow) run(ctx context.Context, shared *goflow.Shared, scope runScope) (last goflow.Action, runErr error) {
	if f.start == nil {
		return goflow.NoAction, ErrNoStartNode
	}
	if shared == nil {
		shared = goflow.NewShared(nil)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	runID := scope.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	params := goflow.ParamsFrom(ctx).Merge(f.Params(), scope.params)
	ctx = goflow.WithParams(ctx, params)
	log := f.logger.With(zap.String("flow", f.name), zap.String("run_id", runID))

	rt := &goflow.Runtime{
		Clock:    f.clock,
		Logger:   log,
		Observer: &runObserver{flow: f, runID: runID, iteration: scope.iteration},
	}

	current := f.start
	steps := 0
	f.emitEvent(ctx, FlowEvent{
		Type:      FlowEventTypeFlowStart,
		RunID:     runID,
		Node:      current.Name(),
		Item:      -1,
		Iteration: scope.iteration,
		Params:    params,
	})
	defer func() {
		f.emitEvent(ctx, FlowEvent{
			Type:      FlowEventTypeFlowComplete,
			RunID:     runID,
			Node:      current.Name(),
			Action:    last,
			Err:       runErr,
			Item:      -1,
			Step:      steps,
			Iteration: scope.iteration,
		})
		if runErr != nil {
			log.Warn("flow run failed", zap.Int("steps", steps), zap.Error(runErr))
			return
		}
		log.Debug("flow run complete", zap.Int("steps", steps), zap.Stringer("action", last))
	}()

	for {
		if f.maxSteps > 0 && steps >= f.maxSteps {
			return last, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, f.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return last, err
		}

		action, err := f.executeStep(ctx, rt, runID, scope.iteration, current, shared, steps)
		steps++
		if err != nil {
			return last, err
		}
		last = action

		next, ok := current.Successors().Lookup(action)
		if !ok {
			return last, nil
		}
		log.Debug("transition",
			zap.String("from", current.Name()),
			zap.Stringer("action", action),
			zap.String("to", next.Name()))
		current = next
	}
}

func (f *Flow) executeStep(ctx context.Context, rt *goflow.Runtime, runID string, iteration int, current Node, shared *goflow.Shared, step int) (goflow.Action, error) {
	f.emitEvent(ctx, FlowEvent{
		Type:      FlowEventTypeNodeStart,
		RunID:     runID,
		Node:      current.Name(),
		Item:      -1,
		Step:      step,
		Iteration: iteration,
	})

	action, err := rt.RunNode(ctx, current, shared)
	if err != nil {
		f.emitEvent(ctx, FlowEvent{
			Type:      FlowEventTypeNodeError,
			RunID:     runID,
			Node:      current.Name(),
			Err:       err,
			Item:      -1,
			Step:      step,
			Iteration: iteration,
		})
		return goflow.NoAction, err
	}

	f.emitEvent(ctx, FlowEvent{
		Type:      FlowEventTypeNodeEnd,
		RunID:     runID,
		Node:      current.Name(),
		Action:    action,
		Item:      -1,
		Step:      step,
		Iteration: iteration,
	})
	return action, nil
}

var _ nodes.FlowRunner = (*Flow)(nil)
