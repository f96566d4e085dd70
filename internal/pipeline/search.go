package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/executor"
	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/search"
)

// searchStage discovers candidate articles for every topic. Results are
// collected for the whole batch first, then sorted by relevance and
// truncated per topic.
func (p *Pipeline) searchStage(ctx context.Context, topics []model.Topic, result *model.RunResult) ([]model.ArticleRef, model.StageCounts) {
	results := executor.Run(ctx, topics, p.cfg.Pipeline.SearchConcurrency,
		func(ctx context.Context, topic model.Topic) ([]model.ArticleRef, error) {
			return p.search.Search(ctx, search.Query{
				Topic:          topic,
				MaxResults:     p.cfg.Pipeline.SearchMaxResults,
				Freshness:      p.cfg.Pipeline.SearchFreshness,
				IncludeDomains: p.cfg.Pipeline.PreferredDomains,
			})
		})

	var refs []model.ArticleRef
	counts := model.StageCounts{Found: len(topics)}
	for i, res := range results {
		if res.Failed() {
			counts.Failed++
			result.RecordFailure(failureKind(res.Err))
			zap.L().Warn("search failed for topic",
				zap.String("topic", res.ItemID),
				zap.Error(res.Err),
			)
			continue
		}
		counts.Succeeded++
		refs = append(refs, truncateByRelevance(res.Output, topics[i].MaxArticles)...)
	}
	return refs, counts
}

// truncateByRelevance keeps the top n refs by relevance score. The sort
// is stable so provider rank order breaks ties.
func truncateByRelevance(refs []model.ArticleRef, n int) []model.ArticleRef {
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].RelevanceScore > refs[j].RelevanceScore
	})
	if n > 0 && len(refs) > n {
		refs = refs[:n]
	}
	return refs
}
