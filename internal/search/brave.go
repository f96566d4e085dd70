package search

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/pkg/brave"
)

// BraveSearcher adapts the Brave client to the Searcher interface.
type BraveSearcher struct {
	client brave.Client
}

// NewBraveSearcher wraps a Brave client.
func NewBraveSearcher(client brave.Client) *BraveSearcher {
	return &BraveSearcher{client: client}
}

func (s *BraveSearcher) Name() string { return "brave" }

func (s *BraveSearcher) Search(ctx context.Context, q Query) ([]model.ArticleRef, error) {
	resp, err := s.client.Search(ctx, brave.SearchRequest{
		Query:     q.Topic.Query(),
		Count:     q.MaxResults,
		Freshness: q.Freshness,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "search: brave query %q", q.Topic.Query())
	}

	refs := make([]model.ArticleRef, 0, len(resp.Web.Results))
	for i, r := range resp.Web.Results {
		ref := model.ArticleRef{
			URL:            r.URL,
			Title:          r.Title,
			Snippet:        r.Description,
			Topic:          q.Topic.Name,
			RelevanceScore: rankScore(i),
			Rank:           i,
		}
		if t, perr := time.Parse(time.RFC3339, r.PageAge); perr == nil {
			ref.PublishedDate = &t
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// rankScore synthesizes a relevance score from result position, since
// Brave does not return one. Top result 1.0, decaying to a 0.1 floor.
func rankScore(rank int) float64 {
	score := 1.0 - float64(rank)*0.05
	if score < 0.1 {
		return 0.1
	}
	return score
}
