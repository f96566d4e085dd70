package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Topics     TopicsConfig     `yaml:"topics" mapstructure:"topics"`
	Tavily     TavilyConfig     `yaml:"tavily" mapstructure:"tavily"`
	Brave      BraveConfig      `yaml:"brave" mapstructure:"brave"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	OpenRouter OpenRouterConfig `yaml:"openrouter" mapstructure:"openrouter"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Cost       CostConfig       `yaml:"cost" mapstructure:"cost"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TopicsConfig locates the topics YAML file.
type TopicsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// TavilyConfig holds Tavily search API settings.
type TavilyConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BraveConfig holds Brave search API settings.
type BraveConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI search API settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OpenRouterConfig holds OpenRouter API settings.
type OpenRouterConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	FastModel    string  `yaml:"fast_model" mapstructure:"fast_model"`
	CapableModel string  `yaml:"capable_model" mapstructure:"capable_model"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// AnthropicConfig holds direct Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	FastModel    string `yaml:"fast_model" mapstructure:"fast_model"`
	CapableModel string `yaml:"capable_model" mapstructure:"capable_model"`
}

// FetchConfig tunes the article fetcher.
type FetchConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig tunes digest runs.
type PipelineConfig struct {
	SearchConcurrency  int     `yaml:"search_concurrency" mapstructure:"search_concurrency"`
	ParseConcurrency   int     `yaml:"parse_concurrency" mapstructure:"parse_concurrency"`
	AnalyzeConcurrency int     `yaml:"analyze_concurrency" mapstructure:"analyze_concurrency"`
	SearchMaxResults   int     `yaml:"search_max_results" mapstructure:"search_max_results"`
	SearchFreshness    string  `yaml:"search_freshness" mapstructure:"search_freshness"`
	DailyBudgetUSD     float64 `yaml:"daily_budget_usd" mapstructure:"daily_budget_usd"`
	// PreferredDomains biases search toward these sources on providers
	// that support domain filtering.
	PreferredDomains []string `yaml:"preferred_domains" mapstructure:"preferred_domains"`
}

// RetryConfig tunes provider retries.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs float64 `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     float64 `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// InitialBackoff returns the initial backoff as a duration.
func (r RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffSecs * float64(time.Second))
}

// MaxBackoff returns the backoff ceiling as a duration.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffSecs * float64(time.Second))
}

// CircuitConfig tunes the per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// CostConfig overrides the built-in pricing table, keyed by model name.
// Required when the configured models are not in the default table.
type CostConfig struct {
	Models map[string]ModelRateConfig `yaml:"models" mapstructure:"models"`
}

// ModelRateConfig is per-model token pricing in USD per million tokens.
type ModelRateConfig struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
}

// Cooldown returns the open-state cooldown as a duration.
func (c CircuitConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// ServerConfig configures the HTTP job API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLEARING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "clearing.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("topics.path", "topics.yaml")
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("brave.base_url", "https://api.search.brave.com")
	v.SetDefault("jina.base_url", "https://s.jina.ai")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.fast_model", "anthropic/claude-haiku-4.5")
	v.SetDefault("openrouter.capable_model", "anthropic/claude-sonnet-4.5")
	v.SetDefault("openrouter.rate_limit_rps", 2.0)
	v.SetDefault("anthropic.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.capable_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("pipeline.search_concurrency", 3)
	v.SetDefault("pipeline.parse_concurrency", 5)
	v.SetDefault("pipeline.analyze_concurrency", 3)
	v.SetDefault("pipeline.search_max_results", 10)
	v.SetDefault("pipeline.search_freshness", "pw")
	v.SetDefault("pipeline.daily_budget_usd", 1.00)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_secs", 1.0)
	v.SetDefault("retry.max_backoff_secs", 30.0)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("circuit.failure_threshold", 3)
	v.SetDefault("circuit.cooldown_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
