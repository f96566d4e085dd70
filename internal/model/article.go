package model

import (
	"net/url"
	"strings"
	"time"
)

// ContentType classifies an analyzed article.
type ContentType string

// Known content types. ContentTypeUnknown absorbs anything unrecognized.
const (
	ContentTypeNews         ContentType = "news"
	ContentTypeOpinion      ContentType = "opinion"
	ContentTypeAnalysis     ContentType = "analysis"
	ContentTypeResearch     ContentType = "research"
	ContentTypePressRelease ContentType = "press_release"
	ContentTypeBlog         ContentType = "blog"
	ContentTypeUnknown      ContentType = "unknown"
)

// ParseContentType maps a free-form string to a ContentType. The mapping is
// total: any value outside the known set yields ContentTypeUnknown.
func ParseContentType(s string) ContentType {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentTypeNews:
		return ContentTypeNews
	case ContentTypeOpinion:
		return ContentTypeOpinion
	case ContentTypeAnalysis:
		return ContentTypeAnalysis
	case ContentTypeResearch:
		return ContentTypeResearch
	case ContentTypePressRelease:
		return ContentTypePressRelease
	case ContentTypeBlog:
		return ContentTypeBlog
	default:
		return ContentTypeUnknown
	}
}

// ArticleRef is a discovered article URL, the unit of work between the
// Search and Parse stages.
type ArticleRef struct {
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet,omitempty"`
	Topic          string     `json:"topic"`
	PublishedDate  *time.Time `json:"published_date,omitempty"`
	RelevanceScore float64    `json:"relevance_score"`
	Rank           int        `json:"rank"`
}

// ID returns the stage-item identifier for this ref.
func (a ArticleRef) ID() string { return a.URL }

// Domain extracts the host from the article URL, without a www prefix.
func (a ArticleRef) Domain() string {
	u, err := url.Parse(a.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// ParsedArticle is a fetched and extracted article, the unit of work
// between the Parse and Analyze stages.
type ParsedArticle struct {
	Ref              ArticleRef `json:"ref"`
	Title            string     `json:"title"`
	Text             string     `json:"text"`
	Author           string     `json:"author,omitempty"`
	Description      string     `json:"description,omitempty"`
	PublishedDate    *time.Time `json:"published_date,omitempty"`
	TopImage         string     `json:"top_image,omitempty"`
	WordCount        int        `json:"word_count"`
	ExtractionMethod string     `json:"extraction_method"`
	ParseQuality     float64    `json:"parse_quality"`
}

// ID returns the stage-item identifier, inherited from the ref.
func (p ParsedArticle) ID() string { return p.Ref.URL }

// ContentPreview returns the first n runes of the text for prompts and logs.
func (p ParsedArticle) ContentPreview(n int) string {
	runes := []rune(p.Text)
	if len(runes) <= n {
		return p.Text
	}
	return string(runes[:n]) + "…"
}

// Analysis holds the model-scored signals for one article. All scores are
// in [0,1]; TechnicalLevel is clamped to 1..5 at the decode boundary.
type Analysis struct {
	RelevanceScore   float64     `json:"relevance_score"`
	QualityScore     float64     `json:"quality_score"`
	NoveltyScore     float64     `json:"novelty_score"`
	DepthScore       float64     `json:"depth_score"`
	CredibilityScore float64     `json:"credibility_score"`
	ContentType      ContentType `json:"content_type"`
	TechnicalLevel   int         `json:"technical_level"`
	KeyPoints        []string    `json:"key_points,omitempty"`
	WhyMatters       string      `json:"why_matters,omitempty"`
	ShouldInclude    bool        `json:"should_include"`
	SkipReason       string      `json:"skip_reason,omitempty"`
}

// Combined-score weights, fixed.
const (
	weightRelevance   = 0.30
	weightQuality     = 0.25
	weightNovelty     = 0.20
	weightDepth       = 0.15
	weightCredibility = 0.10
)

// CombinedScore is the weighted aggregate used for ranking within a topic.
func (a Analysis) CombinedScore() float64 {
	return a.RelevanceScore*weightRelevance +
		a.QualityScore*weightQuality +
		a.NoveltyScore*weightNovelty +
		a.DepthScore*weightDepth +
		a.CredibilityScore*weightCredibility
}

// AnalyzedArticle pairs a parsed article with its analysis, the unit of
// work between the Analyze and Synthesize stages.
type AnalyzedArticle struct {
	Article  ParsedArticle `json:"article"`
	Analysis Analysis      `json:"analysis"`
}

// ID returns the stage-item identifier, inherited from the article.
func (a AnalyzedArticle) ID() string { return a.Article.Ref.URL }
