package search

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/resilience"
)

// Chain tries search providers in priority order behind per-provider
// circuit breakers. The first provider that returns results wins.
type Chain struct {
	searchers []Searcher
	breakers  *resilience.ServiceBreakers

	// RecordQuery, when set, is called once per provider API call so
	// callers can meter per-query search cost. Open circuits do not
	// reach the provider and are not recorded.
	RecordQuery func(provider string)
}

// NewChain creates a Chain. Searchers are tried in the given order.
func NewChain(breakers *resilience.ServiceBreakers, searchers ...Searcher) *Chain {
	return &Chain{searchers: searchers, breakers: breakers}
}

// Search runs the query through the chain. Results matching the topic's
// exclude keywords are dropped. Provider errors (including open circuits)
// advance to the next provider; all failing is an error.
func (c *Chain) Search(ctx context.Context, q Query) ([]model.ArticleRef, error) {
	var lastErr error
	for _, s := range c.searchers {
		cb := c.breakers.Get(s.Name())
		refs, err := resilience.ExecuteVal(ctx, cb, func(ctx context.Context) ([]model.ArticleRef, error) {
			if c.RecordQuery != nil {
				c.RecordQuery(s.Name())
			}
			return s.Search(ctx, q)
		})
		if err != nil {
			zap.L().Debug("search provider failed, trying next",
				zap.String("provider", s.Name()),
				zap.String("topic", q.Topic.Name),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if len(refs) == 0 {
			zap.L().Debug("search provider returned no results, trying next",
				zap.String("provider", s.Name()),
				zap.String("topic", q.Topic.Name),
			)
			continue
		}
		return filterExcluded(refs, q.Topic), nil
	}

	if lastErr != nil {
		return nil, eris.Wrapf(lastErr, "search: all providers failed for topic %s", q.Topic.Name)
	}
	return nil, nil
}

// filterExcluded drops refs whose title or snippet matches the topic's
// exclude keywords.
func filterExcluded(refs []model.ArticleRef, topic model.Topic) []model.ArticleRef {
	if len(topic.ExcludeKeywords) == 0 {
		return refs
	}
	out := refs[:0]
	for _, ref := range refs {
		if topic.Excludes(ref.Title) || topic.Excludes(ref.Snippet) {
			continue
		}
		out = append(out, ref)
	}
	return out
}
