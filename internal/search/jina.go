package search

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/pkg/jina"
)

// JinaSearcher adapts the Jina client to the Searcher interface.
type JinaSearcher struct {
	client jina.Client
}

// NewJinaSearcher wraps a Jina client.
func NewJinaSearcher(client jina.Client) *JinaSearcher {
	return &JinaSearcher{client: client}
}

func (s *JinaSearcher) Name() string { return "jina" }

// Search queries Jina. The API takes no result-count or freshness
// parameters, so results are truncated locally.
func (s *JinaSearcher) Search(ctx context.Context, q Query) ([]model.ArticleRef, error) {
	resp, err := s.client.Search(ctx, q.Topic.Query())
	if err != nil {
		return nil, eris.Wrapf(err, "search: jina query %q", q.Topic.Query())
	}

	results := resp.Data
	if q.MaxResults > 0 && len(results) > q.MaxResults {
		results = results[:q.MaxResults]
	}

	refs := make([]model.ArticleRef, 0, len(results))
	for i, r := range results {
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		refs = append(refs, model.ArticleRef{
			URL:            r.URL,
			Title:          r.Title,
			Snippet:        snippet,
			Topic:          q.Topic.Name,
			RelevanceScore: rankScore(i),
			Rank:           i,
		})
	}
	return refs, nil
}
