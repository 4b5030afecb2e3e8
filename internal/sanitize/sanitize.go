// Package sanitize holds the pure text-normalization and identity helpers the
// harvest pipeline uses for display cleanup and duplicate detection. Nothing
// in this package performs I/O.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize strips HTML-ish tags and collapses whitespace runs to single
// spaces. Used for display values scraped out of markup.
func Normalize(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeForDedup reduces a string to its bare content: lowercase with all
// punctuation and whitespace removed. "Hello, World!" and "hello world"
// collapse to the same key. Idempotent.
func NormalizeForDedup(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// SplitLocation tidies a raw location string: split on commas, trim each
// part, drop empties and duplicates (first occurrence wins), rejoin. The
// listing site likes to render "Berlin, Berlin, Germany"; the result here is
// "Berlin, Germany".
func SplitLocation(raw string) string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, ", ")
}

// DedupParagraphs drops paragraphs that duplicate an earlier one under
// NormalizeForDedup, preserving order and the first occurrence's original
// text.
func DedupParagraphs(paras []string) []string {
	seen := make(map[string]struct{}, len(paras))
	out := make([]string, 0, len(paras))
	for _, p := range paras {
		key := NormalizeForDedup(p)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
