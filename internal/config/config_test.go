package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "clearing.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "topics.yaml", cfg.Topics.Path)
	assert.Equal(t, "https://api.tavily.com", cfg.Tavily.BaseURL)
	assert.Equal(t, "https://api.search.brave.com", cfg.Brave.BaseURL)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, "anthropic/claude-haiku-4.5", cfg.OpenRouter.FastModel)
	assert.Equal(t, "anthropic/claude-sonnet-4.5", cfg.OpenRouter.CapableModel)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.FastModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.CapableModel)
	assert.Equal(t, 20, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Pipeline.SearchConcurrency)
	assert.Equal(t, 5, cfg.Pipeline.ParseConcurrency)
	assert.Equal(t, 3, cfg.Pipeline.AnalyzeConcurrency)
	assert.Equal(t, 10, cfg.Pipeline.SearchMaxResults)
	assert.Equal(t, "pw", cfg.Pipeline.SearchFreshness)
	assert.InDelta(t, 1.00, cfg.Pipeline.DailyBudgetUSD, 0.001)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff())
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff())
	assert.Equal(t, 3, cfg.Circuit.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Circuit.Cooldown())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/clearing
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  parse_concurrency: 8
  preferred_domains:
    - arstechnica.com
    - lwn.net
cost:
  models:
    custom/new-model:
      input_per_mtok: 0.5
      output_per_mtok: 1.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/clearing", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pipeline.ParseConcurrency)
	assert.Equal(t, []string{"arstechnica.com", "lwn.net"}, cfg.Pipeline.PreferredDomains)
	assert.Equal(t, ModelRateConfig{InputPerMTok: 0.5, OutputPerMTok: 1.5}, cfg.Cost.Models["custom/new-model"])
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Pipeline.AnalyzeConcurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
tavily:
  key: file-key
brave:
  key: brave-file-key
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("CLEARING_TAVILY_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Tavily.Key)
	assert.Equal(t, "brave-file-key", cfg.Brave.Key)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
