// Package tracing turns flow lifecycle events into OpenTelemetry spans: one
// span per run with a child span per node cycle.
package tracing

import (
	"context"
	"sync"

	"github.com/forechoandlook/goflow/flows"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/forechoandlook/goflow"

// Monitor is a flows.FlowMonitor that records spans on a tracer. Spans are
// keyed by run ID, so concurrent runs of one flow stay separate.
type Monitor struct {
	tracer trace.Tracer

	mu    sync.Mutex
	runs  map[string]trace.Span
	nodes map[string]trace.Span
}

func NewMonitor(provider trace.TracerProvider) *Monitor {
	return &Monitor{
		tracer: provider.Tracer(instrumentationName),
		runs:   make(map[string]trace.Span),
		nodes:  make(map[string]trace.Span),
	}
}

func (m *Monitor) Notify(ctx context.Context, event flows.FlowEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Type {
	case flows.FlowEventTypeFlowStart:
		attrs := []attribute.KeyValue{
			attribute.String("goflow.flow", event.Flow),
			attribute.String("goflow.run_id", event.RunID),
			attribute.String("goflow.start_node", event.Node),
		}
		if event.Iteration >= 0 {
			attrs = append(attrs, attribute.Int("goflow.iteration", event.Iteration))
		}
		_, span := m.tracer.Start(ctx, "flow "+event.Flow,
			trace.WithTimestamp(event.Timestamp),
			trace.WithAttributes(attrs...))
		m.runs[event.RunID] = span

	case flows.FlowEventTypeFlowComplete:
		span, ok := m.runs[event.RunID]
		if !ok {
			return
		}
		delete(m.runs, event.RunID)
		span.SetAttributes(
			attribute.Int("goflow.steps", event.Step),
			attribute.String("goflow.action", string(event.Action)),
		)
		setStatus(span, event.Err)
		span.End(trace.WithTimestamp(event.Timestamp))

	case flows.FlowEventTypeNodeStart:
		parent := ctx
		if run, ok := m.runs[event.RunID]; ok {
			parent = trace.ContextWithSpan(ctx, run)
		}
		_, span := m.tracer.Start(parent, "node "+event.Node,
			trace.WithTimestamp(event.Timestamp),
			trace.WithAttributes(
				attribute.String("goflow.node", event.Node),
				attribute.Int("goflow.step", event.Step),
			))
		m.nodes[event.RunID] = span

	case flows.FlowEventTypeNodeEnd, flows.FlowEventTypeNodeError:
		span, ok := m.nodes[event.RunID]
		if !ok {
			return
		}
		delete(m.nodes, event.RunID)
		if event.Err == nil {
			span.SetAttributes(attribute.String("goflow.action", string(event.Action)))
		}
		setStatus(span, event.Err)
		span.End(trace.WithTimestamp(event.Timestamp))

	case flows.FlowEventTypeNodeRetry, flows.FlowEventTypeNodeFallback:
		span, ok := m.nodes[event.RunID]
		if !ok {
			return
		}
		attrs := []attribute.KeyValue{attribute.Int("goflow.attempt", event.Attempt)}
		if event.Item >= 0 {
			attrs = append(attrs, attribute.Int("goflow.item", event.Item))
		}
		if event.Err != nil {
			attrs = append(attrs, attribute.String("error", event.Err.Error()))
		}
		span.AddEvent(string(event.Type), trace.WithTimestamp(event.Timestamp), trace.WithAttributes(attrs...))
	}
}

func setStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

var _ flows.FlowMonitor = (*Monitor)(nil)
