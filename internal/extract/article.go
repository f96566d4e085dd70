package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// ArticleStrategy extracts from semantic article markup: <article> or
// <main> body text plus OpenGraph metadata. Richest strategy, tried first.
type ArticleStrategy struct{}

func (s *ArticleStrategy) Name() string { return "article" }

func (s *ArticleStrategy) Extract(rawHTML, pageURL string) (*Attempt, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, eris.Wrap(err, "article: parse html")
	}

	body := doc.Find("article").First()
	if body.Length() == 0 {
		body = doc.Find("main").First()
	}
	if body.Length() == 0 {
		return nil, eris.New("article: no <article> or <main> element")
	}

	// Drop non-content elements before reading text.
	body.Find("script, style, nav, aside, footer, form").Remove()

	text := collapseWhitespace(body.Text())

	attempt := &Attempt{
		Title:       firstNonEmpty(metaContent(doc, `meta[property="og:title"]`), doc.Find("title").First().Text(), body.Find("h1").First().Text()),
		Text:        text,
		Author:      firstNonEmpty(metaContent(doc, `meta[name="author"]`), metaContent(doc, `meta[property="article:author"]`)),
		Description: firstNonEmpty(metaContent(doc, `meta[property="og:description"]`), metaContent(doc, `meta[name="description"]`)),
		TopImage:    metaContent(doc, `meta[property="og:image"]`),
		Method:      s.Name(),
	}
	attempt.Title = strings.TrimSpace(attempt.Title)
	attempt.PublishedDate = parseDate(firstNonEmpty(
		metaContent(doc, `meta[property="article:published_time"]`),
		doc.Find("time[datetime]").First().AttrOr("datetime", ""),
	))

	return attempt, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
