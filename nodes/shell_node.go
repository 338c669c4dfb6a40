package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/forechoandlook/goflow"
)

// ParamEnvPrefix prefixes the environment variables that carry run params
// into a shell command: param "user_id" becomes GOFLOW_PARAM_USER_ID.
const ParamEnvPrefix = "GOFLOW_PARAM_"

type ShellNodeConfig struct {
	ID      string
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration

	// InputKey selects the shared value written to stdin as JSON; empty
	// sends the whole shared snapshot.
	InputKey  string
	OutputKey string
	StderrKey string
	StatusKey string
	// ParseJSON decodes stdout. With an empty OutputKey a decoded object is
	// merged into shared state key by key.
	ParseJSON bool

	// AcceptExitCodes lists non-zero exit codes that count as a result.
	// Any other non-zero exit fails the attempt.
	AcceptExitCodes []int
	// RouteByExit makes Post return "exit_<code>" for accepted non-zero
	// codes. Exit 0 always takes the default transition.
	RouteByExit bool
}

func DefaultShellNodeConfig(id string) ShellNodeConfig {
	return ShellNodeConfig{
		ID:        id,
		OutputKey: id + "_output",
		StatusKey: id + "_status",
	}
}

// ShellNode runs an external command once per exec attempt.
type ShellNode struct {
	*BaseNode
	cfg ShellNodeConfig
}

// ShellCommand is the prep result of a ShellNode. Env holds only the
// variables added on top of the process environment.
type ShellCommand struct {
	Path  string
	Args  []string
	Dir   string
	Env   []string
	Stdin []byte
}

// ShellResult is the exec result of a ShellNode.
type ShellResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

func NewShellNode(cfg ShellNodeConfig, opts ...Option) (*ShellNode, error) {
	if cfg.ID == "" {
		return nil, errors.New("shell node requires id")
	}
	if cfg.Command == "" {
		return nil, errors.New("shell node requires command")
	}
	for _, code := range cfg.AcceptExitCodes {
		if code <= 0 {
			return nil, fmt.Errorf("shell node %s: accepted exit code %d must be positive", cfg.ID, code)
		}
	}
	return &ShellNode{BaseNode: NewBaseNode(cfg.ID, opts...), cfg: cfg}, nil
}

func (n *ShellNode) Prep(ctx context.Context, shared *goflow.Shared) (any, error) {
	var input any = shared.Snapshot()
	if n.cfg.InputKey != "" {
		value, ok := shared.Lookup(n.cfg.InputKey)
		if !ok {
			value = map[string]any{}
		}
		input = value
	}
	stdin, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("shell node %s: encode stdin: %w", n.Name(), err)
	}

	return ShellCommand{
		Path:  n.cfg.Command,
		Args:  slices.Clone(n.cfg.Args),
		Dir:   n.cfg.Dir,
		Env:   append(envPairs(n.cfg.Env), paramEnv(goflow.ParamsFrom(ctx))...),
		Stdin: stdin,
	}, nil
}

func envPairs(env map[string]string) []string {
	pairs := make([]string, 0, len(env))
	for key, value := range env {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	return pairs
}

func paramEnv(params goflow.Params) []string {
	env := make(map[string]string, len(params))
	for key, value := range params {
		name := strings.ToUpper(strings.Map(func(r rune) rune {
			if r == '-' || r == '.' || r == ' ' {
				return '_'
			}
			return r
		}, key))
		env[ParamEnvPrefix+name] = fmt.Sprint(value)
	}
	return envPairs(env)
}

func (n *ShellNode) Exec(ctx context.Context, prep any) (any, error) {
	c, ok := prep.(ShellCommand)
	if !ok {
		return nil, fmt.Errorf("shell node %s: unexpected prep %T", n.Name(), prep)
	}
	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = bytes.NewReader(c.Stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ShellResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		result.ExitCode = exitErr.ExitCode()
		if slices.Contains(n.cfg.AcceptExitCodes, result.ExitCode) {
			return result, nil
		}
		return nil, fmt.Errorf("shell node %s: %s exited %d: %s",
			n.Name(), c.Path, result.ExitCode, strings.TrimSpace(stderr.String()))
	case ctx.Err() != nil:
		return nil, fmt.Errorf("shell node %s: %w", n.Name(), ctx.Err())
	default:
		return nil, fmt.Errorf("shell node %s: %w", n.Name(), err)
	}
}

func (n *ShellNode) Post(_ context.Context, shared *goflow.Shared, _, exec any) (goflow.Action, error) {
	result, ok := exec.(ShellResult)
	if !ok {
		return goflow.NoAction, fmt.Errorf("shell node %s: unexpected exec result %T", n.Name(), exec)
	}
	if n.cfg.StatusKey != "" {
		shared.Set(n.cfg.StatusKey, result.ExitCode)
	}
	if n.cfg.StderrKey != "" {
		shared.Set(n.cfg.StderrKey, string(result.Stderr))
	}

	var stored any = string(result.Stdout)
	if n.cfg.ParseJSON {
		var decoded any
		if json.Unmarshal(result.Stdout, &decoded) == nil {
			stored = decoded
		}
	}
	if n.cfg.OutputKey != "" {
		shared.Set(n.cfg.OutputKey, stored)
	} else if fields, ok := stored.(map[string]any); ok {
		for key, value := range fields {
			shared.Set(key, value)
		}
	}

	if n.cfg.RouteByExit && result.ExitCode != 0 {
		return goflow.Action(fmt.Sprintf("exit_%d", result.ExitCode)), nil
	}
	return goflow.NoAction, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "shell",
		Description: "Runs a command with shared state as JSON on stdin and run params as GOFLOW_PARAM_* variables; stores stdout and the exit code.",
		DSL:         `node <id> = shell <command> [args...] [input=<key>] [output=<key>] [stderr=<key>] [dir=<path>] [timeout=5s] [json=true] [accept=1,2] [route=true]`,
		Example:     `nodes.NewShellNode(nodes.ShellNodeConfig{ID: "git_status", Command: "git", Args: []string{"status", "-sb"}, OutputKey: "status"})`,
	})
}
