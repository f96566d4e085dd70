package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/provider"
	"github.com/autumnsgrove/clearing-cli/internal/synth"
)

// synthesizeStage composes one digest section per topic with a
// capable-tier completion. A failed section falls back to a plain
// listing so no included article is dropped from the digest.
func (p *Pipeline) synthesizeStage(ctx context.Context, byTopic []topicArticles, result *model.RunResult) ([]string, model.StageCounts) {
	sections := make([]string, 0, len(byTopic))
	counts := model.StageCounts{Found: len(byTopic)}

	for _, bucket := range byTopic {
		synth.SortArticles(bucket.Articles)

		if ctx.Err() != nil {
			counts.Failed++
			result.RecordFailure(failureKind(ctx.Err()))
			sections = append(sections, synth.FallbackSection(bucket.Topic.Name, bucket.Articles))
			continue
		}

		section, err := p.synthesizeSection(ctx, bucket)
		if err != nil {
			counts.Failed++
			result.RecordFailure(failureKind(err))
			zap.L().Warn("section synthesis failed, using plain listing",
				zap.String("topic", bucket.Topic.Name),
				zap.Error(err),
			)
			sections = append(sections, synth.FallbackSection(bucket.Topic.Name, bucket.Articles))
			continue
		}
		counts.Succeeded++
		sections = append(sections, section)
	}
	return sections, counts
}

func (p *Pipeline) synthesizeSection(ctx context.Context, bucket topicArticles) (string, error) {
	resp, err := p.invoker.Invoke(ctx, provider.Request{
		System: synth.SectionSystemPrompt,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: synth.SectionPrompt(bucket.Topic.Name, bucket.Articles)},
		},
		MaxTokens:   1500,
		Temperature: 0.7,
	}, provider.TierCapable)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
