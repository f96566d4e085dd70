// Package cost computes API spend for model completions and search queries.
package cost

import (
	"sync"

	"go.uber.org/zap"
)

// Rates holds per-service pricing configuration.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
	Tavily SearchRate           `yaml:"tavily" mapstructure:"tavily"`
	Brave  SearchRate           `yaml:"brave" mapstructure:"brave"`
	Jina   SearchRate           `yaml:"jina" mapstructure:"jina"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// SearchRate holds flat per-query search pricing.
type SearchRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates

	mu     sync.Mutex
	warned map[string]struct{}
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates, warned: make(map[string]struct{})}
}

// Completion computes the cost of a chat completion. A model missing from
// the rates table bills zero and is logged once so misconfigured pricing
// is visible rather than silently free.
func (c *Calculator) Completion(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		c.warnUnpriced(model)
		return 0
	}
	return (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
}

func (c *Calculator) warnUnpriced(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.warned[model]; ok {
		return
	}
	c.warned[model] = struct{}{}
	zap.L().Warn("no pricing for model, billing completions at zero",
		zap.String("model", model),
	)
}

// SearchQuery returns the flat cost of one query against the named search
// provider.
func (c *Calculator) SearchQuery(provider string) float64 {
	switch provider {
	case "tavily":
		return c.rates.Tavily.PerQuery
	case "brave":
		return c.rates.Brave.PerQuery
	case "jina":
		return c.rates.Jina.PerQuery
	default:
		return 0
	}
}

// DefaultRates returns the default pricing table. Model keys cover both the
// OpenRouter slugs and the direct Anthropic model names.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			// OpenRouter slugs.
			"anthropic/claude-haiku-4.5":  {Input: 1.00, Output: 5.00},
			"anthropic/claude-sonnet-4.5": {Input: 3.00, Output: 15.00},
			// Direct Anthropic model names.
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		Tavily: SearchRate{PerQuery: 0.008},
		Brave:  SearchRate{PerQuery: 0.005},
		Jina:   SearchRate{PerQuery: 0.01},
	}
}
