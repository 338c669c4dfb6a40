// Package dsl builds linear flows from a one-command-per-line script. For
// branching graphs use flows.ParseFlowDSL.
//
//	set greeting Hello
//	set message "{{greeting}}, {{name}}"
//	log "{{message}}"
//	return done
package dsl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/flows"
	"github.com/forechoandlook/goflow/nodes"
	"github.com/forechoandlook/goflow/utils"
	"go.uber.org/zap"
)

// Step is one parsed script command.
type Step struct {
	Line    int
	Command string
	Args    []string
}

// Script is a parsed script. Steps run in order on the default transition.
type Script struct {
	Steps []Step
}

// ParseScript tokenizes src. Commands are validated when the script is
// built, so a parsed script may still fail to build.
func ParseScript(src string) (*Script, error) {
	s := &Script{}
	for idx, raw := range strings.Split(src, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields, err := splitFields(line)
		if err != nil {
			return nil, fmt.Errorf("script line %d: %w", idx+1, err)
		}
		s.Steps = append(s.Steps, Step{
			Line:    idx + 1,
			Command: strings.ToLower(fields[0]),
			Args:    fields[1:],
		})
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("script contains no executable steps")
	}
	return s, nil
}

// splitFields splits on whitespace; double-quoted fields follow Go string
// literal rules.
func splitFields(line string) ([]string, error) {
	var fields []string
	for rest := strings.TrimSpace(line); rest != ""; rest = strings.TrimSpace(rest) {
		if rest[0] == '"' {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, fmt.Errorf("unterminated string %s", rest)
			}
			value, _ := strconv.Unquote(quoted)
			fields = append(fields, value)
			rest = rest[len(quoted):]
			continue
		}
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			end = len(rest)
		}
		fields = append(fields, rest[:end])
		rest = rest[end:]
	}
	return fields, nil
}

// Option configures how a script is built.
type Option func(*builder)

// WithLogger sets the logger used by log steps and the flow.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFlowOptions applies run settings such as MaxSteps and Monitors to the
// built flow. The flow is named "script" unless opts.Name is set.
func WithFlowOptions(opts flows.FlowOption) Option {
	return func(b *builder) {
		b.flowOptions = opts
	}
}

type builder struct {
	logger      *zap.Logger
	flowOptions flows.FlowOption
}

type stepFunc func(b *builder, step Step) (nodes.Node, error)

var commands = map[string]stepFunc{
	"set":     buildSet,
	"log":     buildLog,
	"delay":   buildDelay,
	"param":   buildParam,
	"require": buildRequire,
	"incr":    buildIncr,
	"return":  buildReturn,
}

// Build turns the script into a Flow.
func (s *Script) Build(opts ...Option) (*flows.Flow, error) {
	b := &builder{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}

	steps := make([]nodes.Node, 0, len(s.Steps))
	for _, step := range s.Steps {
		build, ok := commands[step.Command]
		if !ok {
			return nil, fmt.Errorf("script line %d: unknown command %q", step.Line, step.Command)
		}
		node, err := build(b, step)
		if err != nil {
			return nil, fmt.Errorf("script line %d: %s: %w", step.Line, step.Command, err)
		}
		steps = append(steps, node)
	}

	fb := flows.NewFlowBuilder(steps[0]).WithName("script").WithLogger(b.logger).WithOptions(b.flowOptions)
	for _, node := range steps[1:] {
		fb.Then(node)
	}
	return fb.Build(), nil
}

// BuildFlowFromScript parses and builds script in one call.
//
//	set <key> <value>        store a value, {{key}} placeholders rendered
//	log <message>            log a rendered message
//	delay <duration>         sleep
//	param <name> <key>       copy a run param into shared state
//	require <key>...         fail unless every key is in shared state
//	incr <key> [delta]       add delta (default 1) to an integer value
//	return <action>          finish the run with action
func BuildFlowFromScript(script string, opts ...Option) (*flows.Flow, error) {
	parsed, err := ParseScript(script)
	if err != nil {
		return nil, err
	}
	return parsed.Build(opts...)
}

func stepID(step Step) string {
	return fmt.Sprintf("%s-%d", step.Command, step.Line)
}

func arity(step Step, min, max int) error {
	if n := len(step.Args); n < min || (max >= 0 && n > max) {
		return fmt.Errorf("got %d arguments", n)
	}
	return nil
}

func buildSet(_ *builder, step Step) (nodes.Node, error) {
	if err := arity(step, 2, 2); err != nil {
		return nil, fmt.Errorf("expects <key> <value>: %w", err)
	}
	key, value := step.Args[0], step.Args[1]
	return nodes.NewFunctionNode(stepID(step), func(_ context.Context, shared *goflow.Shared) (goflow.Action, error) {
		shared.Set(key, render(value, shared))
		return goflow.NoAction, nil
	}), nil
}

func buildLog(b *builder, step Step) (nodes.Node, error) {
	if err := arity(step, 1, -1); err != nil {
		return nil, fmt.Errorf("expects a message: %w", err)
	}
	message := strings.Join(step.Args, " ")
	logger := b.logger.With(zap.Int("line", step.Line))
	return nodes.NewFunctionNode(stepID(step), func(_ context.Context, shared *goflow.Shared) (goflow.Action, error) {
		logger.Info(render(message, shared))
		return goflow.NoAction, nil
	}), nil
}

func buildDelay(_ *builder, step Step) (nodes.Node, error) {
	if err := arity(step, 1, 1); err != nil {
		return nil, fmt.Errorf("expects <duration>: %w", err)
	}
	d, err := time.ParseDuration(step.Args[0])
	if err != nil {
		return nil, err
	}
	return nodes.NewDelayNode(stepID(step), d), nil
}

func buildParam(_ *builder, step Step) (nodes.Node, error) {
	if err := arity(step, 2, 2); err != nil {
		return nil, fmt.Errorf("expects <name> <key>: %w", err)
	}
	param, key := step.Args[0], step.Args[1]
	return nodes.NewFunctionNode(stepID(step), func(ctx context.Context, shared *goflow.Shared) (goflow.Action, error) {
		value, err := goflow.Param[any](ctx, param)
		if err != nil {
			return goflow.NoAction, err
		}
		shared.Set(key, value)
		return goflow.NoAction, nil
	}), nil
}

func buildRequire(_ *builder, step Step) (nodes.Node, error) {
	if err := arity(step, 1, -1); err != nil {
		return nil, fmt.Errorf("expects at least one key: %w", err)
	}
	keys := step.Args
	return nodes.NewFunctionNode(stepID(step), func(_ context.Context, shared *goflow.Shared) (goflow.Action, error) {
		for _, key := range keys {
			if _, err := goflow.Get[any](shared, key); err != nil {
				return goflow.NoAction, err
			}
		}
		return goflow.NoAction, nil
	}), nil
}

func buildIncr(_ *builder, step Step) (nodes.Node, error) {
	if err := arity(step, 1, 2); err != nil {
		return nil, fmt.Errorf("expects <key> [delta]: %w", err)
	}
	key, delta := step.Args[0], 1
	if len(step.Args) == 2 {
		n, ok := utils.ParseValue(step.Args[1]).(int)
		if !ok {
			return nil, fmt.Errorf("delta %q is not an integer", step.Args[1])
		}
		delta = n
	}
	return nodes.NewFunctionNode(stepID(step), func(_ context.Context, shared *goflow.Shared) (goflow.Action, error) {
		current, err := goflow.GetOr(shared, key, 0)
		if err != nil {
			return goflow.NoAction, err
		}
		shared.Set(key, current+delta)
		return goflow.NoAction, nil
	}), nil
}

func buildReturn(_ *builder, step Step) (nodes.Node, error) {
	if err := arity(step, 1, 1); err != nil {
		return nil, fmt.Errorf("expects <action>: %w", err)
	}
	action := goflow.Action(step.Args[0])
	return nodes.NewFunctionNode(stepID(step), func(context.Context, *goflow.Shared) (goflow.Action, error) {
		return action, nil
	}), nil
}

// render replaces {{key}} with the shared value for key. Unknown keys are
// left in place.
func render(text string, shared *goflow.Shared) string {
	var out strings.Builder
	for {
		before, after, found := strings.Cut(text, "{{")
		out.WriteString(before)
		if !found {
			return out.String()
		}
		inner, rest, closed := strings.Cut(after, "}}")
		if !closed {
			out.WriteString("{{" + after)
			return out.String()
		}
		key := strings.TrimSpace(inner)
		if value, ok := shared.Lookup(key); ok {
			out.WriteString(fmt.Sprint(value))
		} else {
			out.WriteString("{{" + key + "}}")
		}
		text = rest
	}
}
