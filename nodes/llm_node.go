package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/forechoandlook/goflow"
	openai "github.com/sashabaranov/go-openai"
)

// LLMNodeConfig fields can be overridden per run through params named after
// their mapstructure tags, e.g. {"model": "gpt-4o", "temperature": 0.2}.
type LLMNodeConfig struct {
	Name         string   `mapstructure:"name"`
	Model        string   `mapstructure:"model"`
	SystemPrompt string   `mapstructure:"system_prompt"`
	InputKey     string   `mapstructure:"input"`
	OutputKey    string   `mapstructure:"output"`
	Temperature  float32  `mapstructure:"temperature"`
	MaxTokens    int      `mapstructure:"max_tokens"`
	Stop         []string `mapstructure:"stop"`
}

// RawResponseKey holds the untrimmed text of the last LLMNode answer.
const RawResponseKey = "llm_response"

func DefaultLLMNodeConfig(prompt string) LLMNodeConfig {
	return LLMNodeConfig{
		Name:         "llm:" + prompt,
		Model:        openai.GPT3Dot5Turbo,
		SystemPrompt: "You are a helpful assistant.",
		InputKey:     "input",
		OutputKey:    "llm_output",
		Temperature:  0.5,
		MaxTokens:    256,
	}
}

// LLMNode sends the shared input to a chat model and stores the answer.
// Without a client it answers "mock response for <input>" so flows can be
// exercised offline.
type LLMNode struct {
	*BaseNode
	client *openai.Client
	cfg    LLMNodeConfig
}

func NewLLMNode(client *openai.Client, cfg LLMNodeConfig, opts ...Option) *LLMNode {
	if cfg.Name == "" {
		cfg.Name = "llm-node"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.InputKey == "" {
		cfg.InputKey = "input"
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "llm_output"
	}
	return &LLMNode{BaseNode: NewBaseNode(cfg.Name, opts...), client: client, cfg: cfg}
}

// Config returns the node configuration with the run params of ctx applied.
func (n *LLMNode) Config(ctx context.Context) (LLMNodeConfig, error) {
	cfg := n.cfg
	if err := goflow.ParamsFrom(ctx).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("llm node %s: %w", n.Name(), err)
	}
	return cfg, nil
}

func (n *LLMNode) Prep(ctx context.Context, shared *goflow.Shared) (any, error) {
	cfg, err := n.Config(ctx)
	if err != nil {
		return nil, err
	}
	input := inputText(shared.Lookup(cfg.InputKey))
	req := newChatRequest(cfg.Model, cfg.SystemPrompt, input, cfg.Temperature, cfg.MaxTokens)
	req.Stop = cfg.Stop
	return ChatRequest{Input: input, OutputKey: cfg.OutputKey, Request: req}, nil
}

func (n *LLMNode) Exec(ctx context.Context, prep any) (any, error) {
	req, ok := prep.(ChatRequest)
	if !ok {
		return nil, fmt.Errorf("llm node %s: unexpected prep %T", n.Name(), prep)
	}
	if n.client == nil {
		return "mock response for " + req.Input, nil
	}
	return complete(ctx, n.client, "llm node "+n.Name(), req.Request)
}

func (n *LLMNode) Post(_ context.Context, shared *goflow.Shared, prep, exec any) (goflow.Action, error) {
	req, _ := prep.(ChatRequest)
	raw, _ := exec.(string)
	shared.Set(req.OutputKey, strings.TrimSpace(raw))
	shared.Set(RawResponseKey, raw)
	return goflow.NoAction, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "llm",
		Description: "Sends shared input to an OpenAI-compatible chat model and stores the answer; offline without a client.",
		DSL:         `node <id> = llm [system=<prompt>] [input=<key>] [output=<key>] [model=<name>] [temperature=0.5]`,
		Example:     `nodes.NewLLMNode(client, nodes.DefaultLLMNodeConfig("translate to french"), nodes.WithRetry(3, time.Second))`,
	})
}
