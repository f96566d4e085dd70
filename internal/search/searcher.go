// Package search discovers candidate articles per topic through a chain
// of search providers.
package search

import (
	"context"

	"github.com/autumnsgrove/clearing-cli/internal/model"
)

// Query is one topic's search request.
type Query struct {
	Topic      model.Topic
	MaxResults int
	// Freshness bounds result age: "pd" (day), "pw" (week), "pm" (month).
	Freshness string
	// IncludeDomains biases results toward preferred sources. Providers
	// that cannot express this ignore it.
	IncludeDomains []string
}

// Searcher is one search provider.
type Searcher interface {
	Name() string
	Search(ctx context.Context, q Query) ([]model.ArticleRef, error)
}
