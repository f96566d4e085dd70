// Package synth composes the digest markdown. The header, article listings,
// and footer are assembled deterministically; only the per-topic commentary
// comes from a model completion.
package synth

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/autumnsgrove/clearing-cli/internal/model"
)

// SectionSystemPrompt steers the per-topic synthesis completion.
const SectionSystemPrompt = "You are a veteran Hacker News commenter known for technical depth and skeptical analysis."

const previewRunes = 800

// wordsPerMinute approximates reading time for the section prompt.
const wordsPerMinute = 200

// SortArticles orders a topic's articles by combined score, best first.
// Order is stable so equal scores keep their discovery order.
func SortArticles(articles []model.AnalyzedArticle) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Analysis.CombinedScore() > articles[j].Analysis.CombinedScore()
	})
}

// SectionPrompt builds the synthesis prompt for one topic section.
func SectionPrompt(topic string, articles []model.AnalyzedArticle) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are writing a Hacker News-style digest section about: %s\n\n", topic)
	b.WriteString("Articles to synthesize:\n")
	b.WriteString(formatArticles(articles))
	b.WriteString("\n\nWrite an engaging section that:\n")
	b.WriteString("1. Groups related articles together\n")
	b.WriteString("2. Uses technical, skeptical HN-style commentary\n")
	b.WriteString("3. Focuses on \"why this matters\" and implications\n")
	b.WriteString("4. Highlights key technical details and trade-offs\n")
	b.WriteString("5. Avoids hype - be measured and analytical\n")
	b.WriteString("6. Each article gets 2-3 sentences maximum\n\n")
	fmt.Fprintf(&b, "Format:\n## %s\n\n", topic)
	b.WriteString("[Your synthesis of the articles in HN comment style]\n\n")
	b.WriteString("### Article Title 1\n*Source: [source] | [reading time]*\n\n")
	b.WriteString("[2-3 sentence HN-style summary focusing on implications and technical details]\n\n")
	b.WriteString("[Source link]\n\n---\n\n")
	b.WriteString("Continue for each article. Be concise but insightful.")

	return b.String()
}

func formatArticles(articles []model.AnalyzedArticle) string {
	entries := make([]string, 0, len(articles))
	for i, a := range articles {
		var b strings.Builder
		fmt.Fprintf(&b, "\nArticle %d:\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", a.Article.Title)
		fmt.Fprintf(&b, "Source: %s\n", a.Article.Ref.Domain())
		fmt.Fprintf(&b, "URL: %s\n", a.Article.Ref.URL)
		fmt.Fprintf(&b, "Reading Time: %d min\n", readingMinutes(a.Article.WordCount))
		if a.Analysis.WhyMatters != "" {
			fmt.Fprintf(&b, "Why It Matters: %s\n", a.Analysis.WhyMatters)
		}
		if len(a.Analysis.KeyPoints) > 0 {
			fmt.Fprintf(&b, "Key Points: %s\n", strings.Join(a.Analysis.KeyPoints, "; "))
		}
		fmt.Fprintf(&b, "Content Preview:\n%s\n", a.Article.ContentPreview(previewRunes))
		entries = append(entries, b.String())
	}
	return strings.Join(entries, "\n---\n")
}

func readingMinutes(wordCount int) int {
	minutes := wordCount / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Header renders the digest header for the given generation time.
func Header(generatedAt time.Time) string {
	var b strings.Builder
	b.WriteString("# Daily Tech Digest\n\n")
	fmt.Fprintf(&b, "**%s**\n\n", generatedAt.Format("January 2, 2006"))
	b.WriteString("*Your personalized HN-style news digest*\n\n---")
	return b.String()
}

// Footer renders the digest stats block.
func Footer(meta model.DigestMetadata, generatedAt time.Time, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString("---\n\n## Digest Stats\n\n")
	fmt.Fprintf(&b, "- **Articles Found**: %d\n", meta.ArticlesFound)
	fmt.Fprintf(&b, "- **Articles Parsed**: %d\n", meta.ArticlesParsed)
	fmt.Fprintf(&b, "- **Articles Included**: %d\n", meta.ArticlesIncluded)
	fmt.Fprintf(&b, "- **Topics**: %s\n", strings.Join(meta.TopicsCovered, ", "))
	fmt.Fprintf(&b, "- **Processing Time**: %.1fs\n", elapsed.Seconds())
	fmt.Fprintf(&b, "- **Total Tokens Used**: %d\n", meta.TotalTokens)
	fmt.Fprintf(&b, "- **Estimated Cost**: $%.4f\n", meta.TotalCostUSD)
	b.WriteString("\n---\n\n")
	b.WriteString("*Generated by clearing-cli*\n")
	fmt.Fprintf(&b, "*%s*", generatedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}

// FallbackSection renders a plain listing for a topic whose synthesis
// completion failed. The digest still carries every included article.
func FallbackSection(topic string, articles []model.AnalyzedArticle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", topic)
	for _, a := range articles {
		fmt.Fprintf(&b, "\n### %s\n", a.Article.Title)
		fmt.Fprintf(&b, "*Source: %s | %d min*\n\n", a.Article.Ref.Domain(), readingMinutes(a.Article.WordCount))
		if a.Analysis.WhyMatters != "" {
			b.WriteString(a.Analysis.WhyMatters + "\n\n")
		}
		fmt.Fprintf(&b, "[%s](%s)\n", a.Article.Ref.URL, a.Article.Ref.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Compose joins the header, topic sections, and footer into the final
// digest document.
func Compose(header string, sections []string, footer string) string {
	parts := make([]string, 0, len(sections)+2)
	parts = append(parts, header)
	parts = append(parts, sections...)
	parts = append(parts, footer)
	return strings.Join(parts, "\n\n")
}
