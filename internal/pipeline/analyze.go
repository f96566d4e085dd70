package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"

	"github.com/autumnsgrove/clearing-cli/internal/executor"
	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/provider"
)

const analysisSystemPrompt = `You are an expert content analyst for a Hacker News-style news aggregator called "The Daily Clearing". Your role is to evaluate articles for quality, relevance, and newsworthiness.

You analyze content with the skeptical, technically-minded perspective of a HN reader:
- Prefer primary sources over press releases
- Value technical depth over marketing fluff
- Identify genuine novelty vs. incremental updates
- Detect hype vs. substance
- Appreciate clear, honest writing

Respond only with the requested JSON object.`

const analysisMaxContentChars = 6000

// analyzeStage scores every parsed article with a fast-tier completion.
// The third return value reports the fatal case: every provider exhausted
// before a single successful completion.
func (p *Pipeline) analyzeStage(ctx context.Context, topics []model.Topic, parsed []model.ParsedArticle, result *model.RunResult) ([]model.AnalyzedArticle, model.StageCounts, bool) {
	topicsByName := make(map[string]model.Topic, len(topics))
	for _, t := range topics {
		topicsByName[t.Name] = t
	}

	var anySuccess atomic.Bool
	var exhaustedBeforeSuccess atomic.Bool

	results := executor.Run(ctx, parsed, p.cfg.Pipeline.AnalyzeConcurrency,
		func(ctx context.Context, article model.ParsedArticle) (model.AnalyzedArticle, error) {
			analyzed, err := p.analyzeOne(ctx, topicsByName[article.Ref.Topic], article)
			if err != nil {
				if errors.Is(err, provider.ErrAllProvidersExhausted) && !anySuccess.Load() {
					exhaustedBeforeSuccess.Store(true)
				}
				return model.AnalyzedArticle{}, err
			}
			anySuccess.Store(true)
			return analyzed, nil
		})

	analyzed := executor.Succeeded(results)
	succeeded, failed := executor.Counts(results)
	for kind, n := range executor.FailureKinds(results, failureKind) {
		result.FailureKinds[kind] += n
	}

	providersDown := exhaustedBeforeSuccess.Load() && !anySuccess.Load()
	return analyzed, model.StageCounts{Found: len(parsed), Succeeded: succeeded, Failed: failed}, providersDown
}

func (p *Pipeline) analyzeOne(ctx context.Context, topic model.Topic, article model.ParsedArticle) (model.AnalyzedArticle, error) {
	resp, err := p.invoker.Invoke(ctx, provider.Request{
		System: analysisSystemPrompt,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: analysisPrompt(topic, article)},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	}, provider.TierFast)
	if err != nil {
		return model.AnalyzedArticle{}, eris.Wrapf(err, "pipeline: analyze %s", article.Ref.URL)
	}

	analysis, err := decodeAnalysis(resp.Text)
	if err != nil {
		return model.AnalyzedArticle{}, provider.NewError(provider.KindInvalidResponse, resp.Model,
			eris.Wrapf(err, "pipeline: analysis response for %s", article.Ref.URL))
	}
	return model.AnalyzedArticle{Article: article, Analysis: analysis}, nil
}

func analysisPrompt(topic model.Topic, article model.ParsedArticle) string {
	content := article.Text
	if runes := []rune(content); len(runes) > analysisMaxContentChars {
		content = string(runes[:analysisMaxContentChars]) + "\n\n[Content truncated for analysis]"
	}

	published := "Unknown"
	if article.PublishedDate != nil {
		published = article.PublishedDate.Format("2006-01-02")
	}
	author := article.Author
	if author == "" {
		author = "Unknown"
	}
	excludes := "none"
	if len(topic.ExcludeKeywords) > 0 {
		excludes = strings.Join(topic.ExcludeKeywords, ", ")
	}

	var b strings.Builder
	b.WriteString("Analyze this article for quality and relevance.\n\n")
	fmt.Fprintf(&b, "TOPIC: %s\n", topic.Name)
	fmt.Fprintf(&b, "KEYWORDS TO MATCH: %s\n", strings.Join(topic.Keywords, ", "))
	fmt.Fprintf(&b, "KEYWORDS TO AVOID: %s\n\n", excludes)
	b.WriteString("ARTICLE:\n")
	fmt.Fprintf(&b, "Title: %s\n", article.Title)
	fmt.Fprintf(&b, "Source: %s\n", article.Ref.Domain())
	fmt.Fprintf(&b, "Author: %s\n", author)
	fmt.Fprintf(&b, "Word Count: %d\n", article.WordCount)
	fmt.Fprintf(&b, "Published: %s\n\n", published)
	fmt.Fprintf(&b, "Content:\n%s\n\n", content)
	b.WriteString(`Respond with JSON:
{
    "relevance_score": 0.0-1.0,
    "quality_score": 0.0-1.0,
    "novelty_score": 0.0-1.0,
    "depth_score": 0.0-1.0,
    "credibility_score": 0.0-1.0,
    "content_type": "news|opinion|analysis|research|press_release|blog|unknown",
    "technical_level": 1-5,
    "key_points": ["point1", "point2", "point3"],
    "why_matters": "One sentence on why this matters",
    "skip_reason": null or "reason to skip",
    "should_include": true/false
}`)
	return b.String()
}

// analysisResponse is the declared decode target. Required fields are
// pointers so a missing key is distinguishable from a zero value.
type analysisResponse struct {
	RelevanceScore   *float64 `json:"relevance_score"`
	QualityScore     *float64 `json:"quality_score"`
	NoveltyScore     *float64 `json:"novelty_score"`
	DepthScore       *float64 `json:"depth_score"`
	CredibilityScore *float64 `json:"credibility_score"`
	ContentType      string   `json:"content_type"`
	TechnicalLevel   int      `json:"technical_level"`
	KeyPoints        []string `json:"key_points"`
	WhyMatters       string   `json:"why_matters"`
	SkipReason       string   `json:"skip_reason"`
	ShouldInclude    *bool    `json:"should_include"`
}

// decodeAnalysis parses a model response into an Analysis. The body must
// be the JSON object, optionally wrapped in exactly one markdown fence
// pair; anything else is an error, never a default-filled result.
func decodeAnalysis(raw string) (model.Analysis, error) {
	body := unwrapFence(strings.TrimSpace(raw))

	var resp analysisResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return model.Analysis{}, eris.Wrap(err, "decode analysis")
	}

	required := map[string]bool{
		"relevance_score":   resp.RelevanceScore != nil,
		"quality_score":     resp.QualityScore != nil,
		"novelty_score":     resp.NoveltyScore != nil,
		"depth_score":       resp.DepthScore != nil,
		"credibility_score": resp.CredibilityScore != nil,
		"should_include":    resp.ShouldInclude != nil,
	}
	for field, present := range required {
		if !present {
			return model.Analysis{}, eris.Errorf("decode analysis: missing required field %s", field)
		}
	}

	return model.Analysis{
		RelevanceScore:   clampScore(*resp.RelevanceScore),
		QualityScore:     clampScore(*resp.QualityScore),
		NoveltyScore:     clampScore(*resp.NoveltyScore),
		DepthScore:       clampScore(*resp.DepthScore),
		CredibilityScore: clampScore(*resp.CredibilityScore),
		ContentType:      model.ParseContentType(resp.ContentType),
		TechnicalLevel:   clampTechnicalLevel(resp.TechnicalLevel),
		KeyPoints:        resp.KeyPoints,
		WhyMatters:       resp.WhyMatters,
		SkipReason:       resp.SkipReason,
		ShouldInclude:    *resp.ShouldInclude,
	}, nil
}

// unwrapFence removes a single leading/trailing markdown fence pair. A
// fence anywhere else, or an unpaired fence, is left untouched so the
// JSON decoder reports it.
func unwrapFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	rest := s[3:]
	rest = strings.TrimPrefix(rest, "json")
	if !strings.HasPrefix(rest, "\n") {
		return s
	}
	rest = rest[1:]
	if !strings.HasSuffix(rest, "```") {
		return s
	}
	return strings.TrimRight(strings.TrimSuffix(rest, "```"), "\n")
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampTechnicalLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 5 {
		return 5
	}
	return level
}
