// Package model defines the core value types flowing through the digest
// pipeline. Types are immutable once produced by a stage; serialization
// happens only at the store/API boundary.
package model

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Topic is a single configured digest topic.
type Topic struct {
	Name            string   `yaml:"name" json:"name"`
	Keywords        []string `yaml:"keywords" json:"keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords" json:"exclude_keywords,omitempty"`
	MaxArticles     int      `yaml:"max_articles" json:"max_articles"`
}

// ID returns the stage-item identifier for this topic.
func (t Topic) ID() string { return t.Name }

// Query builds the search query string for this topic.
func (t Topic) Query() string {
	parts := []string{t.Name}
	if len(t.Keywords) > 0 {
		parts = append(parts, strings.Join(t.Keywords, " "))
	}
	return strings.Join(parts, " ")
}

// Excludes reports whether the given title or snippet matches any of the
// topic's exclude keywords (case-insensitive substring match).
func (t Topic) Excludes(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range t.ExcludeKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// topicsFile is the on-disk shape of the topics config.
type topicsFile struct {
	Topics []Topic `yaml:"topics"`
}

// LoadTopics reads the topics YAML file.
func LoadTopics(path string) ([]Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read topics file %s", path)
	}

	var tf topicsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, eris.Wrapf(err, "model: parse topics file %s", path)
	}

	if len(tf.Topics) == 0 {
		return nil, eris.Errorf("model: no topics defined in %s", path)
	}

	for i := range tf.Topics {
		if tf.Topics[i].Name == "" {
			return nil, eris.Errorf("model: topic %d has no name", i)
		}
		if tf.Topics[i].MaxArticles <= 0 {
			tf.Topics[i].MaxArticles = 5
		}
	}

	return tf.Topics, nil
}
