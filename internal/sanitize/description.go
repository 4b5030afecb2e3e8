package sanitize

import (
	"strings"
	"unicode"
)

// WrapLimit is the maximum segment length CleanDescription enforces on long
// paragraphs.
const WrapLimit = 200

// boilerplatePhrases mark paragraphs that belong to the listing site's
// chrome, not the posting. A paragraph containing any of them
// (case-insensitive) is discarded whole.
var boilerplatePhrases = []string{
	"direct message the job poster",
	"sign in to save",
	"join or sign in",
	"see who you know",
	"people also viewed",
	"similar jobs",
	"by clicking agree",
	"user agreement",
	"cookie policy",
	"set alert",
}

// trailingArtifacts are expand/collapse widget captions that survive text
// extraction at the end of the description.
var trailingArtifacts = []string{
	"show more",
	"show less",
}

// CleanDescription turns raw description paragraphs into the final display
// text: boilerplate paragraphs discarded, duplicates removed (first
// occurrence wins), trailing show-more/show-less artifacts stripped, long
// paragraphs wrapped at WrapLimit, paragraphs rejoined with a blank line.
func CleanDescription(paras []string) string {
	kept := make([]string, 0, len(paras))
	for _, p := range paras {
		p = Normalize(p)
		if p == "" || isBoilerplate(p) {
			continue
		}
		kept = append(kept, p)
	}

	kept = DedupParagraphs(kept)
	kept = stripTrailingArtifacts(kept)

	for i, p := range kept {
		kept[i] = WrapText(p, WrapLimit)
	}
	return strings.Join(kept, "\n\n")
}

func isBoilerplate(p string) bool {
	lower := strings.ToLower(p)
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// stripTrailingArtifacts removes show-more/show-less captions from the end
// of the final paragraph, dropping the paragraph entirely if nothing else
// remains.
func stripTrailingArtifacts(paras []string) []string {
	for len(paras) > 0 {
		last := paras[len(paras)-1]
		trimmed := trimArtifactSuffix(last)
		if trimmed == last {
			break
		}
		if trimmed == "" {
			paras = paras[:len(paras)-1]
			continue
		}
		paras[len(paras)-1] = trimmed
	}
	return paras
}

func trimArtifactSuffix(p string) string {
	for {
		lower := strings.ToLower(strings.TrimRight(p, " \t"))
		matched := false
		for _, art := range trailingArtifacts {
			if strings.HasSuffix(lower, art) {
				p = strings.TrimRight(p[:len(lower)-len(art)], " \t")
				matched = true
				break
			}
		}
		if !matched {
			return p
		}
	}
}

// WrapText splits a paragraph into segments of at most limit runes. Each cut
// lands on the last whitespace at or before the limit; failing that, after
// the last period before the limit; failing that, hard at the limit. Cut
// whitespace is dropped, segments are rejoined with newlines.
func WrapText(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}

	var segs []string
	for len(runes) > limit {
		cut := -1
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if cut > 0 {
			segs = append(segs, string(runes[:cut]))
			runes = skipLeadingSpace(runes[cut+1:])
			continue
		}

		dot := -1
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '.' {
				dot = i
				break
			}
		}
		if dot > 0 {
			segs = append(segs, string(runes[:dot+1]))
			runes = skipLeadingSpace(runes[dot+1:])
			continue
		}

		segs = append(segs, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		segs = append(segs, string(runes))
	}
	return strings.Join(segs, "\n")
}

func skipLeadingSpace(runes []rune) []rune {
	for len(runes) > 0 && unicode.IsSpace(runes[0]) {
		runes = runes[1:]
	}
	return runes
}
