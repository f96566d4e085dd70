// Package extract converts raw article HTML into structured text through
// an ordered chain of strategies, from richest to most permissive.
package extract

import (
	"strings"
	"time"
)

// minTextLength is the shortest extracted text considered usable.
const minTextLength = 180

// Attempt is the output of one extraction strategy.
type Attempt struct {
	Title         string
	Text          string
	Author        string
	Description   string
	PublishedDate *time.Time
	TopImage      string
	// Method names the strategy that produced this attempt.
	Method string
}

// Valid reports whether the attempt is usable: a non-empty title and at
// least minTextLength characters of text.
func (a *Attempt) Valid() bool {
	return strings.TrimSpace(a.Title) != "" && len(strings.TrimSpace(a.Text)) >= minTextLength
}

// WordCount counts whitespace-separated words in the extracted text.
func (a *Attempt) WordCount() int {
	return len(strings.Fields(a.Text))
}

// Strategy is one extraction approach. Returning an error advances the
// chain to the next strategy.
type Strategy interface {
	Name() string
	Extract(rawHTML, pageURL string) (*Attempt, error)
}

// parseDate tries the timestamp layouts seen in article metadata.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC1123,
		time.RFC1123Z,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
