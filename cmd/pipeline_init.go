package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/cost"
	"github.com/autumnsgrove/clearing-cli/internal/extract"
	"github.com/autumnsgrove/clearing-cli/internal/fetch"
	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/pipeline"
	"github.com/autumnsgrove/clearing-cli/internal/progress"
	"github.com/autumnsgrove/clearing-cli/internal/provider"
	"github.com/autumnsgrove/clearing-cli/internal/resilience"
	"github.com/autumnsgrove/clearing-cli/internal/search"
	"github.com/autumnsgrove/clearing-cli/internal/store"
	anthropicpkg "github.com/autumnsgrove/clearing-cli/pkg/anthropic"
	"github.com/autumnsgrove/clearing-cli/pkg/brave"
	"github.com/autumnsgrove/clearing-cli/pkg/jina"
	"github.com/autumnsgrove/clearing-cli/pkg/openrouter"
	"github.com/autumnsgrove/clearing-cli/pkg/tavily"
)

// pipelineEnv holds the initialized store, clients, and pipeline needed
// by the digest/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Topics   []model.Topic

	storeEmitter *progress.StoreEmitter
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.storeEmitter != nil {
		pe.storeEmitter.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, store.Config{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.DatabaseURL,
		Pool: &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		},
	})
}

// initPipeline sets up the store, search and model clients, loads the
// topics file, and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	topics, err := model.LoadTopics(cfg.Topics.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	searchChain, err := initSearchChain()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	invoker, err := initInvoker()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	calc := cost.NewCalculator(configuredRates())
	storeEmitter := progress.NewStoreEmitter(st)
	emitter := progress.MultiEmitter{
		progress.LogEmitter{},
		storeEmitter,
	}

	fetcher := fetch.NewHTTPFetcherWithClient(&http.Client{
		Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
	})

	p := pipeline.New(
		cfg,
		st,
		searchChain,
		fetcher,
		extract.DefaultChain(),
		invoker,
		calc,
		emitter,
	)

	return &pipelineEnv{Store: st, Pipeline: p, Topics: topics, storeEmitter: storeEmitter}, nil
}

// configuredRates overlays any configured per-model pricing on the default
// table so reconfigured models still get billed.
func configuredRates() cost.Rates {
	rates := cost.DefaultRates()
	for name, r := range cfg.Cost.Models {
		rates.Models[name] = cost.ModelRate{Input: r.InputPerMTok, Output: r.OutputPerMTok}
	}
	return rates
}

// initSearchChain builds the provider fallback chain from whichever
// search APIs have keys configured. Tavily first, Brave fallback.
func initSearchChain() (*search.Chain, error) {
	var searchers []search.Searcher

	if cfg.Tavily.Key != "" {
		client := tavily.NewClient(cfg.Tavily.Key, tavily.WithBaseURL(cfg.Tavily.BaseURL))
		searchers = append(searchers, search.NewTavilySearcher(client))
	} else {
		zap.L().Debug("CLEARING_TAVILY_KEY not set, tavily search disabled")
	}

	if cfg.Brave.Key != "" {
		client := brave.NewClient(cfg.Brave.Key, brave.WithBaseURL(cfg.Brave.BaseURL))
		searchers = append(searchers, search.NewBraveSearcher(client))
	} else {
		zap.L().Debug("CLEARING_BRAVE_KEY not set, brave search disabled")
	}

	if cfg.Jina.Key != "" {
		client := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))
		searchers = append(searchers, search.NewJinaSearcher(client))
	} else {
		zap.L().Debug("CLEARING_JINA_KEY not set, jina search disabled")
	}

	if len(searchers) == 0 {
		return nil, eris.New("no search providers configured: set CLEARING_TAVILY_KEY, CLEARING_BRAVE_KEY, or CLEARING_JINA_KEY")
	}

	breakers := resilience.NewServiceBreakers(
		resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.CooldownSecs))
	return search.NewChain(breakers, searchers...), nil
}

// initInvoker builds the model provider registry and fallback invoker
// from whichever provider keys are configured.
func initInvoker() (*provider.Invoker, error) {
	clients := map[string]provider.Chat{}

	if cfg.OpenRouter.Key != "" {
		opts := []openrouter.Option{openrouter.WithBaseURL(cfg.OpenRouter.BaseURL)}
		if cfg.OpenRouter.RateLimitRPS > 0 {
			opts = append(opts, openrouter.WithRateLimit(cfg.OpenRouter.RateLimitRPS, 1))
		}
		clients["openrouter"] = provider.NewOpenRouterChat(openrouter.NewClient(cfg.OpenRouter.Key, opts...))
	}

	if cfg.Anthropic.Key != "" {
		clients["anthropic"] = provider.NewAnthropicChat(anthropicpkg.NewClient(cfg.Anthropic.Key))
	}

	if len(clients) == 0 {
		return nil, eris.New("no model providers configured: set CLEARING_OPENROUTER_KEY or CLEARING_ANTHROPIC_KEY")
	}

	registry := provider.NewRegistry(
		provider.Descriptor{ID: "openrouter", Tier: provider.TierFast, Model: cfg.OpenRouter.FastModel, ContextLength: 200_000},
		provider.Descriptor{ID: "anthropic", Tier: provider.TierFast, Model: cfg.Anthropic.FastModel, ContextLength: 200_000},
		provider.Descriptor{ID: "openrouter", Tier: provider.TierCapable, Model: cfg.OpenRouter.CapableModel, ContextLength: 200_000},
		provider.Descriptor{ID: "anthropic", Tier: provider.TierCapable, Model: cfg.Anthropic.CapableModel, ContextLength: 200_000},
	)

	retryCfg := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		int(cfg.Retry.InitialBackoff().Milliseconds()),
		int(cfg.Retry.MaxBackoff().Milliseconds()),
		cfg.Retry.Multiplier,
		-1,
	)

	return provider.NewInvoker(registry, clients, provider.NewLedger(), cost.NewCalculator(cost.DefaultRates()), retryCfg), nil
}
