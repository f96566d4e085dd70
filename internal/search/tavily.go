package search

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/pkg/tavily"
)

// TavilySearcher adapts the Tavily client to the Searcher interface.
type TavilySearcher struct {
	client tavily.Client
}

// NewTavilySearcher wraps a Tavily client.
func NewTavilySearcher(client tavily.Client) *TavilySearcher {
	return &TavilySearcher{client: client}
}

func (s *TavilySearcher) Name() string { return "tavily" }

func (s *TavilySearcher) Search(ctx context.Context, q Query) ([]model.ArticleRef, error) {
	req := tavily.SearchRequest{
		Query:          q.Topic.Query(),
		Topic:          "news",
		SearchDepth:    "basic",
		Days:           freshnessDays(q.Freshness),
		MaxResults:     q.MaxResults,
		IncludeDomains: q.IncludeDomains,
	}

	resp, err := s.client.Search(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "search: tavily query %q", req.Query)
	}

	refs := make([]model.ArticleRef, 0, len(resp.Results))
	for i, r := range resp.Results {
		ref := model.ArticleRef{
			URL:            r.URL,
			Title:          r.Title,
			Snippet:        r.Content,
			Topic:          q.Topic.Name,
			RelevanceScore: r.Score,
			Rank:           i,
		}
		if t, perr := time.Parse(time.RFC3339, r.PublishedDate); perr == nil {
			ref.PublishedDate = &t
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// freshnessDays maps the freshness window to Tavily's day-count parameter.
func freshnessDays(freshness string) int {
	switch freshness {
	case "pd":
		return 1
	case "pw":
		return 7
	case "pm":
		return 30
	default:
		return 7
	}
}
