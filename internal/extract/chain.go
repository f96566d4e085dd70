package extract

import (
	"strings"

	"go.uber.org/zap"
)

// Chain tries strategies in order and returns the first valid attempt.
type Chain struct {
	strategies []Strategy
}

// NewChain creates a Chain. Strategies are tried in the given order.
func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// DefaultChain returns the standard extraction order: article markup,
// then metadata, then plaintext stripping.
func DefaultChain() *Chain {
	return NewChain(&ArticleStrategy{}, &MetadataStrategy{}, &PlaintextStrategy{})
}

// Extract runs the chain over the raw HTML. The first attempt that passes
// Valid wins. Strategy errors advance the chain. When no attempt
// validates, the last produced attempt is returned so the caller can see
// what was salvaged; with no attempts at all, an empty invalid attempt
// comes back.
func (c *Chain) Extract(rawHTML, pageURL string) *Attempt {
	var last *Attempt
	for _, s := range c.strategies {
		attempt, err := s.Extract(rawHTML, pageURL)
		if err != nil {
			zap.L().Debug("extraction strategy failed, trying next",
				zap.String("strategy", s.Name()),
				zap.String("url", pageURL),
				zap.Error(err),
			)
			continue
		}
		if attempt.Valid() {
			return attempt
		}
		last = attempt
	}
	if last == nil {
		last = &Attempt{Method: "none"}
	}
	return last
}

// Error-page title markers from common CMS and CDN failure pages.
var errorTitleMarkers = []string{
	"page not found",
	"404",
	"access denied",
	"just a moment",
	"attention required",
}

// Quality weights. Summed contributions are clamped to [0,1].
const (
	qTitle       = 0.2
	qWords100    = 0.2
	qWords300    = 0.1
	qAuthor      = 0.1
	qDate        = 0.1
	qDescription = 0.1
	qImage       = 0.1
	qCleanTitle  = 0.1
)

// Quality scores an attempt on fixed structural signals. Deterministic:
// the same attempt always scores the same.
func Quality(a *Attempt) float64 {
	var score float64

	if strings.TrimSpace(a.Title) != "" {
		score += qTitle
	}

	wc := a.WordCount()
	if wc >= 100 {
		score += qWords100
	}
	if wc >= 300 {
		score += qWords300
	}

	if a.Author != "" {
		score += qAuthor
	}
	if a.PublishedDate != nil {
		score += qDate
	}
	if a.Description != "" {
		score += qDescription
	}
	if a.TopImage != "" {
		score += qImage
	}

	lower := strings.ToLower(a.Title)
	clean := a.Title != ""
	for _, marker := range errorTitleMarkers {
		if strings.Contains(lower, marker) {
			clean = false
			break
		}
	}
	if clean {
		score += qCleanTitle
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
