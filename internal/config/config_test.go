package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/forechoandlook/goflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithLookupEnv(envMap(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, goflow.DefaultRetryPolicy(), cfg.Flow.RetryPolicy())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
flow:
  max_steps: 50
  timeout: 30s
  max_retries: 3
  retry_wait: 250ms
kv:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
openai:
  model: gpt-4o
`)

	cfg, err := NewLoader().
		WithConfigPath(path).
		WithLookupEnv(envMap(map[string]string{
			"GOFLOW_FLOW_MAX_STEPS":    "75",
			"GOFLOW_OPENAI_API_KEY":    "sk-test",
			"GOFLOW_SERVER_METRICS":    "false",
			"GOFLOW_LOG_OUTPUT_PATHS":  "stdout, /tmp/goflow.log",
			"GOFLOW_TRACING_ENABLED":   "true",
			"GOFLOW_KV_REDIS_PASSWORD": "",
		})).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"stdout", "/tmp/goflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 75, cfg.Flow.MaxSteps, "env overrides file")
	assert.Equal(t, 30*time.Second, cfg.Flow.Timeout)
	assert.Equal(t, goflow.RetryPolicy{MaxRetries: 3, Wait: 250 * time.Millisecond}, cfg.Flow.RetryPolicy())
	assert.Equal(t, "redis", cfg.KV.Backend)
	assert.Equal(t, "redis:6379", cfg.KV.Redis.Addr)
	assert.Equal(t, 2, cfg.KV.Redis.DB)
	assert.Equal(t, "goflow:", cfg.KV.Redis.Prefix, "unset keys keep defaults")
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.False(t, cfg.Server.Metrics)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoadEnvPrefix(t *testing.T) {
	cfg, err := NewLoader().
		WithEnvPrefix("APP").
		WithLookupEnv(envMap(map[string]string{
			"APP_SERVER_ADDR":    ":9090",
			"GOFLOW_SERVER_ADDR": ":1",
		})).
		Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]struct {
		file string
		env  map[string]string
	}{
		"bad yaml":        {file: "log: [unterminated"},
		"bad duration":    {env: map[string]string{"GOFLOW_FLOW_TIMEOUT": "soon"}},
		"bad int":         {env: map[string]string{"GOFLOW_FLOW_MAX_STEPS": "many"}},
		"bad bool":        {env: map[string]string{"GOFLOW_TRACING_ENABLED": "maybe"}},
		"bad level":       {env: map[string]string{"GOFLOW_LOG_LEVEL": "loud"}},
		"bad format":      {env: map[string]string{"GOFLOW_LOG_FORMAT": "xml"}},
		"bad backend":     {env: map[string]string{"GOFLOW_KV_BACKEND": "etcd"}},
		"zero retries":    {env: map[string]string{"GOFLOW_FLOW_MAX_RETRIES": "0"}},
		"negative steps":  {env: map[string]string{"GOFLOW_FLOW_MAX_STEPS": "-1"}},
		"zero batch pool": {env: map[string]string{"GOFLOW_FLOW_BATCH_CONCURRENCY": "0"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			loader := NewLoader().WithLookupEnv(envMap(tc.env))
			if tc.file != "" {
				loader.WithConfigPath(writeConfig(t, tc.file))
			}
			_, err := loader.Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		WithLookupEnv(envMap(nil)).
		Load()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "loud"
	cfg.KV.Backend = "file"
	cfg.KV.Path = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "kv.path")
}

func TestValidatorHook(t *testing.T) {
	_, err := NewLoader().
		WithLookupEnv(envMap(nil)).
		WithValidator(func(c *Config) error {
			if c.OpenAI.APIKey == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}
