package flows

import (
	"context"
	"time"

	"github.com/forechoandlook/goflow"
)

// emitEvent emits a flow event to all registered monitors
func (f *Flow) emitEvent(ctx context.Context, event FlowEvent) {
	f.monitorMux.RLock()
	monitors := append([]FlowMonitor(nil), f.monitors...)
	f.monitorMux.RUnlock()

	if len(monitors) == 0 {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Flow == "" {
		event.Flow = f.name
	}

	for _, monitor := range monitors {
		monitor.Notify(ctx, event)
	}
}

// runObserver forwards retry bookkeeping from the runtime as flow events.
type runObserver struct {
	flow      *Flow
	runID     string
	iteration int
}

func (o *runObserver) OnRetry(ctx context.Context, ev goflow.AttemptEvent) {
	o.flow.emitEvent(ctx, FlowEvent{
		Type:      FlowEventTypeNodeRetry,
		RunID:     o.runID,
		Node:      ev.Node,
		Item:      ev.Item,
		Attempt:   ev.Attempt,
		Err:       ev.Err,
		Iteration: o.iteration,
	})
}

func (o *runObserver) OnFallback(ctx context.Context, ev goflow.AttemptEvent) {
	o.flow.emitEvent(ctx, FlowEvent{
		Type:      FlowEventTypeNodeFallback,
		RunID:     o.runID,
		Node:      ev.Node,
		Item:      ev.Item,
		Attempt:   ev.Attempt,
		Err:       ev.Err,
		Iteration: o.iteration,
	})
}

// MonitorFunc adapts a function to the FlowMonitor interface.
type MonitorFunc func(ctx context.Context, event FlowEvent)

func (fn MonitorFunc) Notify(ctx context.Context, event FlowEvent) {
	fn(ctx, event)
}
