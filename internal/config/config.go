// Package config loads goflow settings from defaults, an optional YAML file
// and GOFLOW_* environment variables, in that order of precedence.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("goflow.yaml").
//	    Load()
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/forechoandlook/goflow"
	"gopkg.in/yaml.v3"
)

const DefaultEnvPrefix = "GOFLOW"

type Config struct {
	Log     LogConfig     `yaml:"log" env:"LOG"`
	Flow    FlowConfig    `yaml:"flow" env:"FLOW"`
	KV      KVConfig      `yaml:"kv" env:"KV"`
	OpenAI  OpenAIConfig  `yaml:"openai" env:"OPENAI"`
	Server  ServerConfig  `yaml:"server" env:"SERVER"`
	Tracing TracingConfig `yaml:"tracing" env:"TRACING"`
}

type LogConfig struct {
	// debug, info, warn or error
	Level string `yaml:"level" env:"LEVEL"`
	// json or console
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// FlowConfig holds run defaults. Zero MaxSteps and Timeout leave runs
// unbounded.
type FlowConfig struct {
	MaxSteps         int           `yaml:"max_steps" env:"MAX_STEPS"`
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries       int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryWait        time.Duration `yaml:"retry_wait" env:"RETRY_WAIT"`
	BatchConcurrency int           `yaml:"batch_concurrency" env:"BATCH_CONCURRENCY"`
}

// RetryPolicy is the default policy for nodes without their own.
func (c FlowConfig) RetryPolicy() goflow.RetryPolicy {
	return goflow.RetryPolicy{MaxRetries: c.MaxRetries, Wait: c.RetryWait}
}

type KVConfig struct {
	// memory, file or redis
	Backend string      `yaml:"backend" env:"BACKEND"`
	Path    string      `yaml:"path" env:"PATH"`
	Redis   RedisConfig `yaml:"redis" env:"REDIS"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	Metrics         bool          `yaml:"metrics" env:"METRICS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// Empty writes spans to stdout.
	OutputFile string `yaml:"output_file" env:"OUTPUT_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Flow: FlowConfig{
			MaxRetries:       1,
			BatchConcurrency: 1,
		},
		KV: KVConfig{
			Backend: "memory",
			Path:    "goflow-kv.json",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "goflow:",
			},
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			Metrics:         true,
			ShutdownTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			ServiceName: "goflow",
		},
	}
}

// Loader builds a Config. The zero value is not usable; call NewLoader.
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithLookupEnv replaces os.LookupEnv, mainly for tests.
func (l *Loader) WithLookupEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load applies defaults, then the YAML file if one was set, then the
// environment, and finally Validate and any extra validators. A missing
// file is an error only when the path was set explicitly.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		key := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, key); err != nil {
				return err
			}
			continue
		}

		value, ok := l.lookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Flow.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("flow.max_steps must not be negative"))
	}
	if c.Flow.Timeout < 0 {
		errs = append(errs, fmt.Errorf("flow.timeout must not be negative"))
	}
	if err := c.Flow.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("flow retry: %w", err))
	}
	if c.Flow.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("flow.batch_concurrency must be at least 1"))
	}
	switch c.KV.Backend {
	case "memory", "redis":
	case "file":
		if c.KV.Path == "" {
			errs = append(errs, fmt.Errorf("kv.path is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("kv.backend %q must be memory, file or redis", c.KV.Backend))
	}
	return errors.Join(errs...)
}
