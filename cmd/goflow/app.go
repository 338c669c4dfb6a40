package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forechoandlook/goflow/dsl"
	"github.com/forechoandlook/goflow/flows"
	"github.com/forechoandlook/goflow/internal/config"
	"github.com/forechoandlook/goflow/internal/logging"
	"github.com/forechoandlook/goflow/internal/metrics"
	"github.com/forechoandlook/goflow/internal/tracing"
	"github.com/forechoandlook/goflow/kv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  kv.KVStore
	client *openai.Client

	registry *prometheus.Registry
	metrics  *metrics.Monitor

	tracer          trace.TracerProvider
	tracingEnabled  bool
	shutdownTracing func(context.Context) error
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	loader := config.NewLoader()
	if opts.configPath != "" {
		loader.WithConfigPath(opts.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.KV)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	tp, shutdown, err := tracing.NewProvider(ctx, cfg.Tracing, version)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("tracing: %w", err)
	}

	a := &app{
		cfg:             cfg,
		logger:          logger,
		store:           store,
		client:          newOpenAIClient(cfg.OpenAI),
		tracer:          tp,
		tracingEnabled:  cfg.Tracing.Enabled,
		shutdownTracing: shutdown,
	}
	if cfg.Server.Metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.metrics = metrics.NewMonitor("goflow", a.registry)
	}
	if a.client == nil {
		logger.Debug("no OpenAI API key configured, llm nodes return mock responses")
	}
	return a, nil
}

func (a *app) Close(ctx context.Context) error {
	err := errors.Join(a.store.Close(), a.shutdownTracing(ctx))
	_ = a.logger.Sync()
	return err
}

func (a *app) monitors(extra ...flows.FlowMonitor) []flows.FlowMonitor {
	monitors := []flows.FlowMonitor{flows.NewLogMonitor(a.logger)}
	if a.metrics != nil {
		monitors = append(monitors, a.metrics)
	}
	if a.tracingEnabled {
		monitors = append(monitors, tracing.NewMonitor(a.tracer))
	}
	return append(monitors, extra...)
}

// loadFlow parses the script at path with the configured defaults. Files
// ending in .script hold linear step scripts; anything else is flow DSL.
func (a *app) loadFlow(path string, extra ...flows.FlowMonitor) (*flows.Flow, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	runOpts := flows.FlowOption{
		MaxSteps: a.cfg.Flow.MaxSteps,
		Timeout:  a.cfg.Flow.Timeout,
		Monitors: a.monitors(extra...),
	}

	var flow *flows.Flow
	if filepath.Ext(path) == ".script" {
		flow, err = dsl.BuildFlowFromScript(string(script),
			dsl.WithLogger(a.logger),
			dsl.WithFlowOptions(runOpts),
		)
	} else {
		flow, err = flows.ParseFlowDSL(string(script),
			flows.WithDSLLogger(a.logger),
			flows.WithDSLClient(a.client),
			flows.WithDSLModel(a.cfg.OpenAI.Model),
			flows.WithDSLStore(a.store),
			flows.WithDSLRetryPolicy(a.cfg.Flow.RetryPolicy()),
			flows.WithDSLFlowOptions(runOpts),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return flow, nil
}

func openStore(cfg config.KVConfig) (kv.KVStore, error) {
	switch cfg.Backend {
	case "memory":
		return kv.NewInMemoryKVStore(), nil
	case "file":
		return kv.NewFileBasedKVStore(cfg.Path)
	case "redis":
		return kv.NewRedisKVStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, kv.WithPrefix(cfg.Redis.Prefix)), nil
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.Backend)
	}
}

func newOpenAIClient(cfg config.OpenAIConfig) *openai.Client {
	if cfg.APIKey == "" {
		return nil
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}
