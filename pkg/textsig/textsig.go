// Package textsig extracts normalized keyword signals from feedback excerpts.
// All functions are pure with no side effects.
package textsig

import (
	"regexp"
	"sort"
	"strings"
)

// Normalization regexes compiled once at package init.
var (
	reURL        = regexp.MustCompile(`https?://\S+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reNumber     = regexp.MustCompile(`\b\d+\b`)
	reNonWord    = regexp.MustCompile(`[^a-z0-9\s]+`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// stopwords are tokens that carry no issue signal. Kept deliberately small:
// over-aggressive filtering makes short excerpts degenerate.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "do": true, "for": true,
	"from": true, "get": true, "has": true, "have": true, "hi": true,
	"how": true, "i": true, "in": true, "is": true, "it": true, "its": true,
	"me": true, "my": true, "no": true, "not": true, "of": true, "on": true,
	"or": true, "our": true, "please": true, "so": true, "that": true,
	"the": true, "thanks": true, "this": true, "to": true, "was": true,
	"we": true, "when": true, "why": true, "with": true, "you": true,
	"your": true,
}

// Normalize lowercases an excerpt and strips URLs, UUIDs, standalone numbers,
// and punctuation so that rephrasings of the same issue converge.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = reURL.ReplaceAllString(text, " ")
	text = reUUID.ReplaceAllString(text, " ")
	text = reNumber.ReplaceAllString(text, " ")
	text = reNonWord.ReplaceAllString(text, " ")
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Tokens returns the normalized, non-stopword tokens of an excerpt in order.
func Tokens(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	fields := strings.Fields(normalized)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] || len(f) < 2 {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Keywords returns up to k distinct tokens ranked by frequency, ties broken
// alphabetically. The ranking depends only on content, never on input order
// beyond the text itself.
func Keywords(text string, k int) []string {
	tokens := Tokens(text)
	if len(tokens) == 0 {
		return nil
	}

	freq := make(map[string]int)
	for _, tok := range tokens {
		freq[tok]++
	}

	distinct := make([]string, 0, len(freq))
	for tok := range freq {
		distinct = append(distinct, tok)
	}
	sort.Slice(distinct, func(i, j int) bool {
		if freq[distinct[i]] != freq[distinct[j]] {
			return freq[distinct[i]] > freq[distinct[j]]
		}
		return distinct[i] < distinct[j]
	})

	if k > 0 && len(distinct) > k {
		distinct = distinct[:k]
	}
	sort.Strings(distinct)
	return distinct
}

// Jaccard computes set overlap between two token slices. Empty-vs-empty is 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}

	var intersection int
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
