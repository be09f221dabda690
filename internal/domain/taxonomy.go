package domain

import (
	"strings"
	"unicode"
)

// Taxonomy normalizes free-form topic labels into the domain's canonical
// topic set: lowercase lookup, alias replacement, Title-Cased output,
// deduplicated preserving first occurrence.
type Taxonomy struct {
	categories    map[string][]string
	normalization map[string]string
}

// Taxonomy builds the topic taxonomy from the domain configuration.
func (c *Config) Taxonomy() *Taxonomy {
	norm := make(map[string]string, len(c.TopicNormalizations))
	for alias, canonical := range c.TopicNormalizations {
		norm[strings.ToLower(alias)] = strings.ToLower(canonical)
	}
	return &Taxonomy{
		categories:    c.TopicTaxonomy,
		normalization: norm,
	}
}

// Categories returns the category → canonical topic mapping.
func (t *Taxonomy) Categories() map[string][]string { return t.categories }

// Normalize maps each topic through the normalization table and returns
// Title-Cased, deduplicated topics in first-occurrence order.
func (t *Taxonomy) Normalize(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		lowered := strings.ToLower(strings.TrimSpace(topic))
		if lowered == "" {
			continue
		}
		if canonical, ok := t.normalization[lowered]; ok {
			lowered = canonical
		}
		titled := titleCase(lowered)
		if _, ok := seen[titled]; ok {
			continue
		}
		seen[titled] = struct{}{}
		out = append(out, titled)
	}
	return out
}

// titleCase capitalizes the first letter of each space-separated word.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
