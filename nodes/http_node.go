package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/forechoandlook/goflow"
)

const defaultMaxResponseBytes = 1 << 20

// HTTPNodeConfig describes a request built from shared state. URL, Body and
// the values of Query and Headers are text/template sources executed
// against a snapshot of shared state; {{param "key"}} reads the run params.
type HTTPNodeConfig struct {
	ID      string
	Method  string
	URL     string
	Query   map[string]string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Client  *http.Client

	ResponseKey string
	StatusKey   string
	DecodeJSON  bool
	// MaxResponseBytes caps the stored body; longer bodies fail the attempt.
	MaxResponseBytes int64
	// RouteByStatus makes Post return the status class ("2xx", "4xx", ...)
	// as the action instead of the default transition.
	RouteByStatus bool
}

func DefaultHTTPNodeConfig(id string) HTTPNodeConfig {
	return HTTPNodeConfig{
		ID:               id,
		Method:           http.MethodGet,
		Headers:          map[string]string{"Accept": "application/json"},
		Timeout:          30 * time.Second,
		ResponseKey:      id + "_response",
		StatusKey:        id + "_status",
		DecodeJSON:       true,
		MaxResponseBytes: defaultMaxResponseBytes,
	}
}

// HTTPNode sends one request per exec attempt. Transport errors and 5xx
// responses fail the attempt; any other status is a result.
type HTTPNode struct {
	*BaseNode
	cfg       HTTPNodeConfig
	templates *template.Template
}

// HTTPRequest is the prep result of an HTTPNode: the fully rendered request.
type HTTPRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// HTTPResponse is the exec result of an HTTPNode.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func NewHTTPNode(cfg HTTPNodeConfig, opts ...Option) (*HTTPNode, error) {
	if cfg.ID == "" {
		return nil, errors.New("http node requires id")
	}
	if cfg.URL == "" {
		return nil, errors.New("http node requires url")
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}

	// All sources share one template set so they can be rebound together.
	root := template.New(cfg.ID).Funcs(paramFuncs(nil))
	add := func(name, src string) error {
		if _, err := root.New(name).Parse(src); err != nil {
			return fmt.Errorf("http node %s: compile %s: %w", cfg.ID, name, err)
		}
		return nil
	}
	if err := add("url", cfg.URL); err != nil {
		return nil, err
	}
	if err := add("body", cfg.Body); err != nil {
		return nil, err
	}
	for key, value := range cfg.Query {
		if err := add("query:"+key, value); err != nil {
			return nil, err
		}
	}
	for key, value := range cfg.Headers {
		if err := add("header:"+key, value); err != nil {
			return nil, err
		}
	}

	return &HTTPNode{BaseNode: NewBaseNode(cfg.ID, opts...), cfg: cfg, templates: root}, nil
}

func paramFuncs(params goflow.Params) template.FuncMap {
	return template.FuncMap{
		"param": func(key string) any { return params[key] },
	}
}

func (n *HTTPNode) Prep(ctx context.Context, shared *goflow.Shared) (any, error) {
	tmpl, err := n.templates.Clone()
	if err != nil {
		return nil, err
	}
	tmpl.Funcs(paramFuncs(goflow.ParamsFrom(ctx)))
	data := shared.Snapshot()

	render := func(name string) (string, error) {
		var buf strings.Builder
		if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
			return "", fmt.Errorf("http node %s: render %s: %w", n.Name(), name, err)
		}
		return buf.String(), nil
	}

	rawURL, err := render("url")
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if len(n.cfg.Query) > 0 {
		query := target.Query()
		for key := range n.cfg.Query {
			value, err := render("query:" + key)
			if err != nil {
				return nil, err
			}
			query.Set(key, value)
		}
		target.RawQuery = query.Encode()
	}

	header := make(http.Header, len(n.cfg.Headers))
	for key := range n.cfg.Headers {
		value, err := render("header:" + key)
		if err != nil {
			return nil, err
		}
		header.Set(key, value)
	}

	req := HTTPRequest{Method: n.cfg.Method, URL: target.String(), Header: header}
	if n.cfg.Body != "" {
		body, err := render("body")
		if err != nil {
			return nil, err
		}
		req.Body = []byte(body)
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "application/json")
		}
	}
	return req, nil
}

func (n *HTTPNode) Exec(ctx context.Context, prep any) (any, error) {
	r, ok := prep.(HTTPRequest)
	if !ok {
		return nil, fmt.Errorf("http node %s: unexpected prep %T", n.Name(), prep)
	}
	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()

	resp, err := n.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, n.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > n.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("http node %s: response exceeds %d bytes", n.Name(), n.cfg.MaxResponseBytes)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("http node %s: %s responded %d", n.Name(), r.URL, resp.StatusCode)
	}
	return HTTPResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

func (n *HTTPNode) Post(_ context.Context, shared *goflow.Shared, _, exec any) (goflow.Action, error) {
	resp, ok := exec.(HTTPResponse)
	if !ok {
		return goflow.NoAction, fmt.Errorf("http node %s: unexpected exec result %T", n.Name(), exec)
	}
	if n.cfg.StatusKey != "" {
		shared.Set(n.cfg.StatusKey, resp.StatusCode)
	}
	if n.cfg.ResponseKey != "" {
		var stored any = string(resp.Body)
		if n.cfg.DecodeJSON {
			var decoded any
			if json.Unmarshal(resp.Body, &decoded) == nil {
				stored = decoded
			}
		}
		shared.Set(n.cfg.ResponseKey, stored)
	}
	if n.cfg.RouteByStatus {
		return goflow.Action(fmt.Sprintf("%dxx", resp.StatusCode/100)), nil
	}
	return goflow.NoAction, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "http",
		Description: "Sends an HTTP request rendered from shared state and stores status and body; 5xx responses are retried.",
		DSL:         `node <id> = http <url> [method=POST] [body=<template>] [response=<key>] [status=<key>] [timeout=10s] [json=false] [route=true]`,
		Example:     `nodes.NewHTTPNode(nodes.HTTPNodeConfig{ID: "notify", URL: "https://example.com/users/{{.user}}", Method: http.MethodPost, Body: "{\"text\": \"{{.message}}\"}"})`,
	})
}
