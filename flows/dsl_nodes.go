package flows

import (
	"fmt"
	"strconv"
	"time"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/nodes"
	"github.com/forechoandlook/goflow/utils"
	"github.com/mitchellh/mapstructure"
)

// decodeArgs copies key=value options onto the fields of out tagged `dsl`.
// Values are converted to the field type; unknown options are an error.
func decodeArgs(named map[string]string, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "dsl",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(named)
}

type nodeBuilder func(p *dslParser, id string, positional []string, named map[string]string) (Node, error)

var nodeBuilders = map[string]nodeBuilder{
	"http":       buildHTTP,
	"shell":      buildShell,
	"llm":        buildLLM,
	"llm_router": buildLLMRouter,
	"kv_read":    buildKVRead,
	"kv_write":   buildKVWrite,
	"set":        buildSet,
	"delay":      buildDelay,
	"loop":       buildLoop,
}

func (p *dslParser) buildNode(id, nodeType string, args []string) (Node, error) {
	// Logger messages are free text and may contain '='.
	if nodeType == "logger" {
		message, keys := id, []string(nil)
		if len(args) > 0 {
			message, keys = args[0], args[1:]
		}
		return nodes.NewLoggerNode(id, p.logger, message, keys...), nil
	}
	build, ok := nodeBuilders[nodeType]
	if !ok {
		return nil, fmt.Errorf("unsupported node type %q", nodeType)
	}
	positional, named := splitArgs(args)
	node, err := build(p, id, positional, named)
	if err != nil {
		return nil, fmt.Errorf("%s node: %w", nodeType, err)
	}
	return node, nil
}

func buildHTTP(_ *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	cfg := nodes.DefaultHTTPNodeConfig(id)
	if len(positional) > 0 {
		cfg.URL = positional[0]
	}
	args := struct {
		URL      string        `dsl:"url"`
		Method   string        `dsl:"method"`
		Body     string        `dsl:"body"`
		Timeout  time.Duration `dsl:"timeout"`
		Response string        `dsl:"response"`
		Status   string        `dsl:"status"`
		JSON     bool          `dsl:"json"`
		Route    bool          `dsl:"route"`
	}{URL: cfg.URL, Method: cfg.Method, Timeout: cfg.Timeout, Response: cfg.ResponseKey, Status: cfg.StatusKey, JSON: cfg.DecodeJSON}
	if err := decodeArgs(named, &args); err != nil {
		return nil, err
	}
	if args.URL == "" {
		return nil, fmt.Errorf("url required")
	}
	cfg.URL, cfg.Method, cfg.Body, cfg.Timeout = args.URL, args.Method, args.Body, args.Timeout
	cfg.ResponseKey, cfg.StatusKey = args.Response, args.Status
	cfg.DecodeJSON, cfg.RouteByStatus = args.JSON, args.Route
	return nodes.NewHTTPNode(cfg)
}

func buildShell(_ *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	if len(positional) == 0 {
		return nil, fmt.Errorf("command required")
	}
	cfg := nodes.DefaultShellNodeConfig(id)
	cfg.Command, cfg.Args = positional[0], positional[1:]
	args := struct {
		Dir     string        `dsl:"dir"`
		Input   string        `dsl:"input"`
		Output  string        `dsl:"output"`
		Stderr  string        `dsl:"stderr"`
		Timeout time.Duration `dsl:"timeout"`
		JSON    bool          `dsl:"json"`
		Accept  []int         `dsl:"accept"`
		Route   bool          `dsl:"route"`
	}{Output: cfg.OutputKey}
	if err := decodeArgs(named, &args); err != nil {
		return nil, err
	}
	cfg.Dir, cfg.InputKey, cfg.OutputKey, cfg.StderrKey = args.Dir, args.Input, args.Output, args.Stderr
	cfg.Timeout, cfg.ParseJSON = args.Timeout, args.JSON
	cfg.AcceptExitCodes, cfg.RouteByExit = args.Accept, args.Route
	return nodes.NewShellNode(cfg)
}

func buildLLM(p *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	cfg := nodes.DefaultLLMNodeConfig("")
	cfg.Name = id
	if p.model != "" {
		cfg.Model = p.model
	}
	args := struct {
		Model        string  `dsl:"model"`
		System       string  `dsl:"system"`
		SystemPrompt string  `dsl:"system_prompt"`
		Prompt       string  `dsl:"prompt"`
		Temperature  float32 `dsl:"temperature"`
		MaxTokens    int     `dsl:"max_tokens"`
		Input        string  `dsl:"input"`
		Output       string  `dsl:"output"`
	}{Model: cfg.Model, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens, Input: cfg.InputKey, Output: cfg.OutputKey}
	if err := decodeArgs(named, &args); err != nil {
		return nil, err
	}
	cfg.Model, cfg.Temperature, cfg.MaxTokens = args.Model, args.Temperature, args.MaxTokens
	cfg.InputKey, cfg.OutputKey = args.Input, args.Output
	for _, prompt := range []string{args.System, args.SystemPrompt, args.Prompt} {
		if prompt != "" {
			cfg.SystemPrompt = prompt
		}
	}
	if len(positional) > 0 {
		cfg.SystemPrompt = positional[0]
	}
	return nodes.NewLLMNode(p.client, cfg), nil
}

func buildLLMRouter(p *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	cfg := nodes.LLMRouterConfig{Name: id, Model: p.model}
	if len(positional) > 0 {
		cfg.Prompt = positional[0]
	}
	args := struct {
		Prompt  string   `dsl:"prompt"`
		Model   string   `dsl:"model"`
		Input   string   `dsl:"input"`
		Actions []string `dsl:"actions"`
		Default string   `dsl:"default"`
		Choice  string   `dsl:"choice"`
	}{Prompt: cfg.Prompt, Model: cfg.Model}
	if err := decodeArgs(named, &args); err != nil {
		return nil, err
	}
	for _, a := range args.Actions {
		if a != "" {
			cfg.Actions = append(cfg.Actions, goflow.Action(a))
		}
	}
	if len(cfg.Actions) == 0 {
		return nil, fmt.Errorf("actions=a,b,... required")
	}
	cfg.Prompt, cfg.Model, cfg.InputKey = args.Prompt, args.Model, args.Input
	cfg.Default, cfg.ChoiceKey = goflow.Action(args.Default), args.Choice
	return nodes.NewLLMRouter(p.client, cfg), nil
}

// kvKeyArg resolves the store key from key= or the first positional.
func kvKeyArg(p *dslParser, positional []string, named map[string]string) (string, error) {
	if p.store == nil {
		return "", fmt.Errorf("kv store required")
	}
	key := named["key"]
	delete(named, "key")
	if key == "" && len(positional) > 0 {
		key = positional[0]
	}
	if key == "" {
		return "", fmt.Errorf("key required")
	}
	return key, nil
}

func buildKVRead(p *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	key, err := kvKeyArg(p, positional, named)
	if err != nil {
		return nil, err
	}
	args := struct {
		Output  string  `dsl:"output"`
		JSON    bool    `dsl:"json"`
		Default *string `dsl:"default"`
	}{Output: key}
	if err := decodeArgs(named, &args); err != nil {
		return nil, err
	}
	node := nodes.NewKVReadNode(id, p.store, key, args.Output)
	node.DecodeJSON = args.JSON
	if args.Default != nil {
		node.Default = utils.ParseValue(*args.Default)
	}
	return node, nil
}

func buildKVWrite(p *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	key, err := kvKeyArg(p, positional, named)
	if err != nil {
		return nil, err
	}
	args := struct {
		Input string `dsl:"input"`
	}{Input: key}
	if err := decodeArgs(named, &args); err != nil {
		return nil, err
	}
	return nodes.NewKVWriteNode(id, p.store, key, args.Input), nil
}

func buildSet(_ *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	args := struct {
		Key   string `dsl:"key"`
		Value string `dsl:"value"`
	}{}
	if len(positional) >= 2 {
		args.Key, args.Value = positional[0], positional[1]
	}
	if err := decodeArgs(named, &args); err != nil {
		return nil, err
	}
	if args.Key == "" || args.Value == "" {
		return nil, fmt.Errorf("key and value required")
	}
	return nodes.NewSetNode(id, args.Key, utils.ParseValue(args.Value)), nil
}

func buildDelay(_ *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	if len(positional) == 0 || len(named) > 0 {
		return nil, fmt.Errorf("expects a single duration")
	}
	d, err := time.ParseDuration(positional[0])
	if err != nil {
		return nil, err
	}
	return nodes.NewDelayNode(id, d), nil
}

func buildLoop(_ *dslParser, id string, positional []string, named map[string]string) (Node, error) {
	if len(positional) == 0 || len(named) > 0 {
		return nil, fmt.Errorf("expects an iteration count")
	}
	n, err := strconv.Atoi(positional[0])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("invalid iteration count %q", positional[0])
	}
	return nodes.NewLoopNode(id, n), nil
}
