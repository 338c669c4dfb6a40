package dsl

import (
	"context"
	"testing"

	"github.com/forechoandlook/goflow/flows"

	"github.com/forechoandlook/goflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildFlowFromScript(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	script := `
		# DSL script that drives a simple flow
		set greeting Hello
		set message "Message is {{greeting}}"
		log "{{message}} has been composed"
		delay 1ms
		return done
	`

	flow, err := BuildFlowFromScript(script, WithLogger(zap.New(core)))
	require.NoError(t, err)
	require.NotNil(t, flow)

	shared := goflow.NewShared(nil)
	action, err := flow.Run(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, goflow.Action("done"), action)

	message, err := goflow.Get[string](shared, "message")
	require.NoError(t, err)
	assert.Equal(t, "Message is Hello", message)

	entries := logs.FilterMessage("Message is Hello has been composed").All()
	assert.Len(t, entries, 1)
}

func TestBuildFlowFromScriptParam(t *testing.T) {
	flow, err := BuildFlowFromScript("param city target")
	require.NoError(t, err)
	flow.SetParams(goflow.Params{"city": "Lisbon"})

	shared := goflow.NewShared(nil)
	_, err = flow.Run(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", goflow.MustGet[string](shared, "target"))
}

func TestBuildFlowFromScriptMissingParam(t *testing.T) {
	flow, err := BuildFlowFromScript("param city target")
	require.NoError(t, err)

	_, err = flow.Run(context.Background(), goflow.NewShared(nil))
	assert.ErrorIs(t, err, goflow.ErrKeyNotFound)
}

func TestBuildFlowFromScriptUnknownTemplateKey(t *testing.T) {
	flow, err := BuildFlowFromScript(`set out "hi {{missing}}"`)
	require.NoError(t, err)

	shared := goflow.NewShared(nil)
	_, err = flow.Run(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, "hi {{missing}}", goflow.MustGet[string](shared, "out"))
}

func TestBuildFlowFromScriptErrors(t *testing.T) {
	cases := map[string]string{
		"empty":           "   \n# nothing here\n",
		"unknown":         "jump somewhere",
		"set without key": "set",
		"bad delay":       "delay soon",
		"param arity":     "param city",
		"unterminated":    `log "oops`,
		"set arity":       "set a b c",
		"incr delta":      "incr n many",
		"require nothing": "require",
	}
	for name, script := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildFlowFromScript(script)
			assert.Error(t, err)
		})
	}
}

func TestParseScript(t *testing.T) {
	script, err := ParseScript("set msg \"a \\\"b\\\"\"\n\n  LOG   done\tnow\n")
	require.NoError(t, err)
	assert.Equal(t, []Step{
		{Line: 1, Command: "set", Args: []string{"msg", `a "b"`}},
		{Line: 3, Command: "log", Args: []string{"done", "now"}},
	}, script.Steps)
}

func TestBuildFlowFromScriptRequireAndIncr(t *testing.T) {
	flow, err := BuildFlowFromScript(`
		incr count
		incr count 4
		require count name
	`)
	require.NoError(t, err)

	shared := goflow.NewShared(map[string]any{"name": "ada"})
	_, err = flow.Run(context.Background(), shared)
	require.NoError(t, err)
	assert.Equal(t, 5, goflow.MustGet[int](shared, "count"))

	_, err = flow.Run(context.Background(), goflow.NewShared(nil))
	assert.ErrorIs(t, err, goflow.ErrKeyNotFound)

	_, err = flow.Run(context.Background(), goflow.NewShared(map[string]any{"count": "x"}))
	assert.ErrorIs(t, err, goflow.ErrTypeMismatch)
}

func TestScriptBuildFlowOptions(t *testing.T) {
	var starts int
	monitor := flows.MonitorFunc(func(_ context.Context, event flows.FlowEvent) {
		if event.Type == flows.FlowEventTypeNodeStart {
			starts++
		}
	})
	flow, err := BuildFlowFromScript("set a 1\nset b 2\nset c 3",
		WithFlowOptions(flows.FlowOption{Name: "steps", MaxSteps: 2, Monitors: []flows.FlowMonitor{monitor}}))
	require.NoError(t, err)
	assert.Equal(t, "steps", flow.Name())

	_, err = flow.Run(context.Background(), goflow.NewShared(nil))
	assert.ErrorIs(t, err, flows.ErrMaxStepsExceeded)
	assert.Equal(t, 2, starts)
}

func TestRender(t *testing.T) {
	shared := goflow.NewShared(map[string]any{"a": 1, "b": "x"})
	assert.Equal(t, "1-x-{{c}}", render("{{a}}-{{ b }}-{{c}}", shared))
	assert.Equal(t, "open {{a", render("open {{a", shared))
	assert.Equal(t, "plain", render("plain", shared))
}
