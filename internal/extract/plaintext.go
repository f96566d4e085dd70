package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// PlaintextStrategy strips tags with regexes. Most permissive, last in
// the chain: it accepts anything that still has a <title>.
type PlaintextStrategy struct{}

func (s *PlaintextStrategy) Name() string { return "plaintext" }

var titleRe = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)

func (s *PlaintextStrategy) Extract(rawHTML, pageURL string) (*Attempt, error) {
	title := ""
	if m := titleRe.FindStringSubmatch(rawHTML); len(m) > 1 {
		title = strings.TrimSpace(m[1])
	}
	if title == "" {
		return nil, eris.New("plaintext: no title tag")
	}

	return &Attempt{
		Title:  title,
		Text:   stripHTML(rawHTML),
		Method: s.Name(),
	}, nil
}

// stripHTML removes scripts/styles/nav/footer, strips tags, decodes entities,
// and collapses whitespace.
func stripHTML(html string) string {
	// Remove script, style, nav, footer blocks entirely.
	for _, tag := range []string{"script", "style", "nav", "footer"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	// Strip remaining HTML tags.
	tagRe := regexp.MustCompile(`<[^>]+>`)
	html = tagRe.ReplaceAllString(html, " ")

	// Decode common HTML entities.
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	html = r.Replace(html)

	// Collapse whitespace: multiple spaces → single, multiple newlines → double.
	spaceRe := regexp.MustCompile(`[ \t]+`)
	html = spaceRe.ReplaceAllString(html, " ")

	nlRe := regexp.MustCompile(`\n{3,}`)
	html = nlRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
