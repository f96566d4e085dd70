package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// MetadataStrategy builds an attempt purely from meta and OpenGraph tags
// plus paragraph text. Middle of the chain: works on pages without
// semantic article markup.
type MetadataStrategy struct{}

func (s *MetadataStrategy) Name() string { return "metadata" }

func (s *MetadataStrategy) Extract(rawHTML, pageURL string) (*Attempt, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, eris.Wrap(err, "metadata: parse html")
	}

	title := firstNonEmpty(metaContent(doc, `meta[property="og:title"]`), doc.Find("title").First().Text())
	if title == "" {
		return nil, eris.New("metadata: no title metadata")
	}

	// Paragraph text from the whole body, description as fallback.
	var paras []string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		if t := collapseWhitespace(sel.Text()); t != "" {
			paras = append(paras, t)
		}
	})
	text := strings.Join(paras, "\n\n")

	desc := firstNonEmpty(metaContent(doc, `meta[property="og:description"]`), metaContent(doc, `meta[name="description"]`))
	if text == "" {
		text = desc
	}

	return &Attempt{
		Title:         title,
		Text:          text,
		Author:        metaContent(doc, `meta[name="author"]`),
		Description:   desc,
		PublishedDate: parseDate(metaContent(doc, `meta[property="article:published_time"]`)),
		TopImage:      metaContent(doc, `meta[property="og:image"]`),
		Method:        s.Name(),
	}, nil
}
