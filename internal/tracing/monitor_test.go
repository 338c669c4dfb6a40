package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/flows"
	"github.com/forechoandlook/goflow/internal/config"
	"github.com/forechoandlook/goflow/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	return recorder, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
}

func spanNamed(t *testing.T, spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no span named %q", name)
	return nil
}

func TestMonitorSpans(t *testing.T) {
	recorder, tp := newRecorder()

	calls := 0
	first := nodes.NewFuncNode("first", nodes.WithRetry(2, 0)).
		OnExec(func(context.Context, any) (any, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("flaky")
			}
			return nil, nil
		}).
		OnPost(func(context.Context, *goflow.Shared, any, any) (goflow.Action, error) {
			return "next", nil
		})
	second := nodes.NewFuncNode("second")

	flow := flows.NewFlowBuilder(first).
		WithName("demo").
		WithMonitor(NewMonitor(tp)).
		Connect(first, "next", second).
		Build()
	_, err := flow.Run(context.Background(), goflow.NewShared(nil))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	run := spanNamed(t, spans, "flow demo")
	firstSpan := spanNamed(t, spans, "node first")
	secondSpan := spanNamed(t, spans, "node second")

	assert.Equal(t, codes.Ok, run.Status().Code)
	assert.Equal(t, run.SpanContext().SpanID(), firstSpan.Parent().SpanID())
	assert.Equal(t, run.SpanContext().TraceID(), secondSpan.SpanContext().TraceID())

	require.Len(t, firstSpan.Events(), 1)
	assert.Equal(t, string(flows.FlowEventTypeNodeRetry), firstSpan.Events()[0].Name)
	assert.Contains(t, firstSpan.Attributes(), attribute.String("goflow.action", "next"))
}

func TestMonitorErrorStatus(t *testing.T) {
	recorder, tp := newRecorder()
	broken := nodes.NewFuncNode("broken").
		OnExec(func(context.Context, any) (any, error) { return nil, errors.New("boom") })

	flow := flows.NewFlowBuilder(broken).WithName("demo").WithMonitor(NewMonitor(tp)).Build()
	_, err := flow.Run(context.Background(), goflow.NewShared(nil))
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spanNamed(t, spans, "flow demo").Status().Code)

	node := spanNamed(t, spans, "node broken")
	assert.Equal(t, codes.Error, node.Status().Code)
	var names []string
	for _, e := range node.Events() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{string(flows.FlowEventTypeNodeFallback), "exception"}, names)
}

func TestMonitorIgnoresUnknownRuns(t *testing.T) {
	recorder, tp := newRecorder()
	m := NewMonitor(tp)
	m.Notify(context.Background(), flows.FlowEvent{Type: flows.FlowEventTypeNodeEnd, RunID: "missing"})
	m.Notify(context.Background(), flows.FlowEvent{Type: flows.FlowEventTypeFlowComplete, RunID: "missing"})
	assert.Empty(t, recorder.Ended())
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	tp, shutdown, err := NewProvider(ctx, config.TracingConfig{}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.NotNil(t, tp)

	out := filepath.Join(t.TempDir(), "spans.json")
	tp, shutdown, err = NewProvider(ctx, config.TracingConfig{Enabled: true, ServiceName: "goflow", OutputFile: out}, "test")
	require.NoError(t, err)

	flow := flows.NewFlowBuilder(nodes.NewFuncNode("only")).WithName("file").WithMonitor(NewMonitor(tp)).Build()
	_, err = flow.Run(ctx, goflow.NewShared(nil))
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "flow file")
	assert.Contains(t, string(data), "node only")
}

