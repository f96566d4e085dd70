package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/internal/executor"
	"github.com/autumnsgrove/clearing-cli/internal/extract"
	"github.com/autumnsgrove/clearing-cli/internal/model"
)

// parseStage fetches every discovered article and runs the extraction
// chain. Articles that cannot be fetched or yield no valid extraction
// are dropped as item failures.
func (p *Pipeline) parseStage(ctx context.Context, refs []model.ArticleRef, result *model.RunResult) ([]model.ParsedArticle, model.StageCounts) {
	results := executor.Run(ctx, refs, p.cfg.Pipeline.ParseConcurrency,
		func(ctx context.Context, ref model.ArticleRef) (model.ParsedArticle, error) {
			return p.parseOne(ctx, ref)
		})

	parsed := executor.Succeeded(results)
	succeeded, failed := executor.Counts(results)
	for kind, n := range executor.FailureKinds(results, failureKind) {
		result.FailureKinds[kind] += n
	}
	return parsed, model.StageCounts{Found: len(refs), Succeeded: succeeded, Failed: failed}
}

func (p *Pipeline) parseOne(ctx context.Context, ref model.ArticleRef) (model.ParsedArticle, error) {
	rawHTML, err := p.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return model.ParsedArticle{}, eris.Wrapf(err, "pipeline: fetch %s", ref.URL)
	}

	attempt := p.extract.Extract(rawHTML, ref.URL)
	if !attempt.Valid() {
		return model.ParsedArticle{}, eris.Errorf("pipeline: no valid extraction for %s (method %s)", ref.URL, attempt.Method)
	}

	article := model.ParsedArticle{
		Ref:              ref,
		Title:            attempt.Title,
		Text:             attempt.Text,
		Author:           attempt.Author,
		Description:      attempt.Description,
		PublishedDate:    attempt.PublishedDate,
		TopImage:         attempt.TopImage,
		WordCount:        attempt.WordCount(),
		ExtractionMethod: attempt.Method,
		ParseQuality:     extract.Quality(attempt),
	}
	if article.PublishedDate == nil {
		article.PublishedDate = ref.PublishedDate
	}
	return article, nil
}
