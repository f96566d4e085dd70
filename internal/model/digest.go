package model

import "time"

// Digest is the composed output of a completed run.
type Digest struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Markdown    string         `json:"markdown"`
	Metadata    DigestMetadata `json:"metadata"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// DigestMetadata summarizes what went into a digest.
type DigestMetadata struct {
	TopicsCovered    []string `json:"topics_covered"`
	ArticlesFound    int      `json:"articles_found"`
	ArticlesParsed   int      `json:"articles_parsed"`
	ArticlesAnalyzed int      `json:"articles_analyzed"`
	ArticlesIncluded int      `json:"articles_included"`
	TotalTokens      int64    `json:"total_tokens"`
	TotalCostUSD     float64  `json:"total_cost_usd"`
}
