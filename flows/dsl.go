package flows

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/kv"
	"github.com/forechoandlook/goflow/utils"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type dslTransition struct {
	line   int
	from   string
	action goflow.Action
	to     string
}

type dslRetry struct {
	line   int
	node   string
	policy goflow.RetryPolicy
}

type dslParams struct {
	line   int
	node   string
	params goflow.Params
}

type dslTimeout struct {
	line    int
	node    string
	timeout time.Duration
}

type dslParser struct {
	nodes       map[string]Node
	start       string
	firstNode   string
	name        string
	transitions []dslTransition
	retries     []dslRetry
	params      []dslParams
	timeouts    []dslTimeout

	logger       *zap.Logger
	client       *openai.Client
	model        string
	store        kv.KVStore
	flowOptions  FlowOption
	defaultRetry *goflow.RetryPolicy
}

// DSLOption supplies dependencies to nodes built by ParseFlowDSL.
type DSLOption func(*dslParser)

// WithDSLLogger sets the logger for logger nodes and for the flow itself.
func WithDSLLogger(logger *zap.Logger) DSLOption {
	return func(p *dslParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDSLClient sets the client used by llm and llm_router nodes. Without
// one they answer with mock responses.
func WithDSLClient(client *openai.Client) DSLOption {
	return func(p *dslParser) {
		p.client = client
	}
}

// WithDSLModel sets the model for llm and llm_router nodes that do not
// name one.
func WithDSLModel(model string) DSLOption {
	return func(p *dslParser) {
		p.model = model
	}
}

// WithDSLStore sets the store used by kv_read and kv_write nodes.
func WithDSLStore(store kv.KVStore) DSLOption {
	return func(p *dslParser) {
		p.store = store
	}
}

// WithDSLFlowOptions applies opts to the built flow. A flow directive in
// the script still names the flow.
func WithDSLFlowOptions(opts FlowOption) DSLOption {
	return func(p *dslParser) {
		p.flowOptions = opts
	}
}

// WithDSLRetryPolicy sets the policy for nodes without a retry directive.
func WithDSLRetryPolicy(policy goflow.RetryPolicy) DSLOption {
	return func(p *dslParser) {
		p.defaultRetry = &policy
	}
}

// ParseFlowDSL builds a flow from a simple line-oriented DSL:
//
//	# comment
//	flow <name>
//	node <id> = <type> [args...] [key=value...]
//	start <id>
//	connect <from> [action] -> <to>
//	retry <id> <max_retries> [wait]
//	params <id> key=value...
//	timeout <id> <duration>
//
// A connect without an action sets the default transition. Param values
// are typed: integers, floats, booleans and durations are recognised,
// anything else stays a string.
func ParseFlowDSL(script string, opts ...DSLOption) (*Flow, error) {
	parser := &dslParser{
		nodes:  make(map[string]Node),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(parser)
	}
	if err := parser.parse(script); err != nil {
		return nil, err
	}
	return parser.build()
}

func (p *dslParser) parse(script string) error {
	scanner := bufio.NewScanner(strings.NewReader(script))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		tokens, err := tokenizeLine(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "flow":
			err = p.parseName(tokens)
		case "node":
			err = p.parseNode(tokens)
		case "start":
			err = p.parseStart(tokens)
		case "connect":
			err = p.parseConnect(lineNum, tokens)
		case "retry":
			err = p.parseRetry(lineNum, tokens)
		case "params":
			err = p.parseParams(lineNum, tokens)
		case "timeout":
			err = p.parseTimeout(lineNum, tokens)
		default:
			err = fmt.Errorf("unsupported directive %q", tokens[0])
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	return scanner.Err()
}

func (p *dslParser) parseName(tokens []string) error {
	if len(tokens) != 2 {
		return fmt.Errorf("flow directive expects a single name")
	}
	p.name = tokens[1]
	return nil
}

func (p *dslParser) parseNode(tokens []string) error {
	if len(tokens) < 4 || tokens[2] != "=" {
		return fmt.Errorf("invalid node definition, expected `node <id> = <type> ...`")
	}
	id := tokens[1]
	if _, exists := p.nodes[id]; exists {
		return fmt.Errorf("node %q already defined", id)
	}
	node, err := p.buildNode(id, tokens[3], tokens[4:])
	if err != nil {
		return fmt.Errorf("node %q: %w", id, err)
	}
	p.nodes[id] = node
	if p.firstNode == "" {
		p.firstNode = id
	}
	return nil
}

func (p *dslParser) parseStart(tokens []string) error {
	if len(tokens) != 2 {
		return fmt.Errorf("start directive expects a single node name")
	}
	p.start = tokens[1]
	return nil
}

// parseConnect accepts
//
//	connect a b
//	connect a -> b
//	connect a action b
//	connect a action -> b
//	connect a -> b action
func (p *dslParser) parseConnect(line int, tokens []string) error {
	if len(tokens) < 3 {
		return fmt.Errorf("connect directive requires at least source and target node")
	}
	tr := dslTransition{line: line, from: tokens[1]}

	switch len(tokens) {
	case 3:
		tr.to = tokens[2]
	case 4:
		if tokens[2] == "->" {
			tr.to = tokens[3]
		} else {
			tr.action = goflow.Action(tokens[2])
			tr.to = tokens[3]
		}
	case 5:
		switch {
		case tokens[3] == "->":
			tr.action = goflow.Action(tokens[2])
			tr.to = tokens[4]
		case tokens[2] == "->":
			tr.to = tokens[3]
			tr.action = goflow.Action(tokens[4])
		default:
			return fmt.Errorf("unexpected connect syntax")
		}
	default:
		return fmt.Errorf("unexpected connect syntax")
	}
	if tr.to == "->" || tr.action == "->" {
		return fmt.Errorf("unexpected connect syntax")
	}

	p.transitions = append(p.transitions, tr)
	return nil
}

func (p *dslParser) parseRetry(line int, tokens []string) error {
	if len(tokens) < 3 || len(tokens) > 4 {
		return fmt.Errorf("retry directive expects `retry <id> <max_retries> [wait]`")
	}
	maxRetries, err := strconv.Atoi(tokens[2])
	if err != nil {
		return fmt.Errorf("invalid max_retries %q: %w", tokens[2], err)
	}
	policy := goflow.RetryPolicy{MaxRetries: maxRetries}
	if len(tokens) == 4 {
		policy.Wait, err = time.ParseDuration(tokens[3])
		if err != nil {
			return fmt.Errorf("invalid wait %q: %w", tokens[3], err)
		}
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	p.retries = append(p.retries, dslRetry{line: line, node: tokens[1], policy: policy})
	return nil
}

func (p *dslParser) parseParams(line int, tokens []string) error {
	if len(tokens) < 3 {
		return fmt.Errorf("params directive expects `params <id> key=value...`")
	}
	params, err := utils.ParseParamPairs(tokens[2:])
	if err != nil {
		return err
	}
	p.params = append(p.params, dslParams{line: line, node: tokens[1], params: params})
	return nil
}

func (p *dslParser) parseTimeout(line int, tokens []string) error {
	if len(tokens) != 3 {
		return fmt.Errorf("timeout directive expects `timeout <id> <duration>`")
	}
	timeout, err := time.ParseDuration(tokens[2])
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", tokens[2], err)
	}
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	p.timeouts = append(p.timeouts, dslTimeout{line: line, node: tokens[1], timeout: timeout})
	return nil
}

type retrySetter interface {
	SetRetryPolicy(goflow.RetryPolicy) error
}

func (p *dslParser) build() (*Flow, error) {
	if len(p.nodes) == 0 {
		return nil, fmt.Errorf("no nodes defined in DSL")
	}

	start := p.start
	if start == "" {
		start = p.firstNode
	}
	if _, ok := p.nodes[start]; !ok {
		return nil, fmt.Errorf("start node %q is not defined", start)
	}

	if p.defaultRetry != nil {
		if err := p.defaultRetry.Validate(); err != nil {
			return nil, err
		}
		for _, node := range p.nodes {
			if setter, ok := node.(retrySetter); ok {
				_ = setter.SetRetryPolicy(*p.defaultRetry)
			}
		}
	}

	for _, r := range p.retries {
		node, ok := p.nodes[r.node]
		if !ok {
			return nil, fmt.Errorf("line %d: retry for undefined node %q", r.line, r.node)
		}
		setter, ok := node.(retrySetter)
		if !ok {
			return nil, fmt.Errorf("line %d: node %q does not accept a retry policy", r.line, r.node)
		}
		if err := setter.SetRetryPolicy(r.policy); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
	}

	for _, ps := range p.params {
		node, ok := p.nodes[ps.node]
		if !ok {
			return nil, fmt.Errorf("line %d: params for undefined node %q", ps.line, ps.node)
		}
		node.SetParams(node.Params().Merge(ps.params))
	}

	// Wrapping happens last so retry and params reach the inner node.
	for _, to := range p.timeouts {
		node, ok := p.nodes[to.node]
		if !ok {
			return nil, fmt.Errorf("line %d: timeout for undefined node %q", to.line, to.node)
		}
		p.nodes[to.node] = utils.WithTimeoutOnNode(node, to.timeout)
	}

	builder := NewFlowBuilder(p.nodes[start]).WithLogger(p.logger).WithOptions(p.flowOptions)
	if p.name != "" {
		builder.WithName(p.name)
	}

	for _, tr := range p.transitions {
		fromNode, ok := p.nodes[tr.from]
		if !ok {
			return nil, fmt.Errorf("line %d: transition from undefined node %q", tr.line, tr.from)
		}
		toNode, ok := p.nodes[tr.to]
		if !ok {
			return nil, fmt.Errorf("line %d: transition to undefined node %q", tr.line, tr.to)
		}
		builder.Connect(fromNode, tr.action, toNode)
	}

	return builder.Build(), nil
}

func splitArgs(args []string) (positional []string, named map[string]string) {
	named = make(map[string]string)
	for _, arg := range args {
		if idx := strings.Index(arg, "="); idx > 0 {
			named[arg[:idx]] = arg[idx+1:]
			continue
		}
		positional = append(positional, arg)
	}
	return positional, named
}

func tokenizeLine(line string) ([]string, error) {
	var tokens []string
	var buf strings.Builder
	inQuote := false
	quoted := false
	escaping := false

	flush := func() {
		if buf.Len() > 0 || quoted {
			tokens = append(tokens, buf.String())
			buf.Reset()
		}
		quoted = false
	}

	for _, r := range line {
		switch {
		case escaping:
			buf.WriteRune(r)
			escaping = false
		case r == '\\':
			escaping = true
		case r == '"':
			inQuote = !inQuote
			quoted = true
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			buf.WriteRune(r)
		}
	}

	if escaping {
		return nil, fmt.Errorf("unfinished escape sequence")
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	flush()

	return tokens, nil
}
