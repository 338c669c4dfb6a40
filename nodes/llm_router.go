package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/forechoandlook/goflow"
	openai "github.com/sashabaranov/go-openai"
)

// LLMRouterConfig shares the param override rules of LLMNodeConfig.
type LLMRouterConfig struct {
	Name        string          `mapstructure:"name"`
	Model       string          `mapstructure:"model"`
	Prompt      string          `mapstructure:"prompt"`
	Actions     []goflow.Action `mapstructure:"-"`
	InputKey    string          `mapstructure:"input"`
	Default     goflow.Action   `mapstructure:"-"`
	Temperature float32         `mapstructure:"temperature"`
	MaxTokens   int             `mapstructure:"max_tokens"`
	// ChoiceKey, when set, records the selected action in shared state.
	ChoiceKey string `mapstructure:"choice"`
}

// LLMRouter asks a chat model which action to take next. The answer is
// matched against Actions; no match selects Default, which is the first
// action unless configured. A nil client always selects Default.
type LLMRouter struct {
	*BaseNode
	client *openai.Client
	cfg    LLMRouterConfig
}

func NewLLMRouter(client *openai.Client, cfg LLMRouterConfig, opts ...Option) *LLMRouter {
	if cfg.Name == "" {
		cfg.Name = "llm-router"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.InputKey == "" {
		cfg.InputKey = "input"
	}
	if cfg.Default == goflow.NoAction && len(cfg.Actions) > 0 {
		cfg.Default = cfg.Actions[0]
	}
	return &LLMRouter{BaseNode: NewBaseNode(cfg.Name, opts...), client: client, cfg: cfg}
}

func (lr *LLMRouter) Prep(ctx context.Context, shared *goflow.Shared) (any, error) {
	cfg := lr.cfg
	if err := goflow.ParamsFrom(ctx).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("llm router %s: %w", lr.Name(), err)
	}
	input := inputText(shared.Lookup(cfg.InputKey))
	return ChatRequest{
		Input:     input,
		OutputKey: cfg.ChoiceKey,
		Request:   newChatRequest(cfg.Model, lr.prompt(cfg.Prompt), input, cfg.Temperature, cfg.MaxTokens),
	}, nil
}

// prompt appends the allowed answers to the configured instructions.
func (lr *LLMRouter) prompt(base string) string {
	if len(lr.cfg.Actions) == 0 {
		return base
	}
	names := make([]string, len(lr.cfg.Actions))
	for i, a := range lr.cfg.Actions {
		names[i] = string(a)
	}
	return strings.TrimSpace(base + "\nAnswer with exactly one of: " + strings.Join(names, ", "))
}

func (lr *LLMRouter) Exec(ctx context.Context, prep any) (any, error) {
	req, ok := prep.(ChatRequest)
	if !ok {
		return nil, fmt.Errorf("llm router %s: unexpected prep %T", lr.Name(), prep)
	}
	if lr.client == nil {
		return "", nil
	}
	return complete(ctx, lr.client, "llm router "+lr.Name(), req.Request)
}

func (lr *LLMRouter) Post(_ context.Context, shared *goflow.Shared, prep, exec any) (goflow.Action, error) {
	answer, _ := exec.(string)
	action := lr.Route(answer)
	if req, _ := prep.(ChatRequest); req.OutputKey != "" {
		shared.Set(req.OutputKey, string(action))
	}
	return action, nil
}

// Route maps an answer onto one of the configured actions. An exact match
// wins; otherwise the longest action named in the answer is chosen.
func (lr *LLMRouter) Route(answer string) goflow.Action {
	answer = strings.ToLower(strings.Trim(strings.TrimSpace(answer), `."'`))
	if answer == "" {
		return lr.cfg.Default
	}
	var best goflow.Action
	for _, action := range lr.cfg.Actions {
		name := strings.ToLower(string(action))
		if answer == name {
			return action
		}
		if strings.Contains(answer, name) && len(action) > len(best) {
			best = action
		}
	}
	if best != goflow.NoAction {
		return best
	}
	return lr.cfg.Default
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "llm_router",
		Description: "Asks a chat model to pick the next action from a fixed list.",
		DSL:         `node <id> = llm_router <prompt> actions=a,b [default=<action>] [input=<key>] [model=<name>]`,
		Example:     `nodes.NewLLMRouter(client, nodes.LLMRouterConfig{Actions: []goflow.Action{"search", "summarize"}, Prompt: "Pick one action"})`,
	})
}
