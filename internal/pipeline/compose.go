package pipeline

import (
	"time"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/synth"
)

// composeDigest assembles the final markdown document and its metadata.
func (p *Pipeline) composeDigest(
	runID string,
	topics []string,
	refs []model.ArticleRef,
	parsed []model.ParsedArticle,
	analyzed []model.AnalyzedArticle,
	included []model.AnalyzedArticle,
	sections []string,
	start time.Time,
	base costBaseline,
) *model.Digest {
	generatedAt := time.Now().UTC()
	meta := model.DigestMetadata{
		TopicsCovered:    topics,
		ArticlesFound:    len(refs),
		ArticlesParsed:   len(parsed),
		ArticlesAnalyzed: len(analyzed),
		ArticlesIncluded: len(included),
		TotalTokens:      p.tokensSince(base),
		TotalCostUSD:     p.costSince(base),
	}

	markdown := synth.Compose(
		synth.Header(generatedAt),
		sections,
		synth.Footer(meta, generatedAt, time.Since(start)),
	)

	return &model.Digest{
		RunID:       runID,
		Markdown:    markdown,
		Metadata:    meta,
		GeneratedAt: generatedAt,
	}
}
