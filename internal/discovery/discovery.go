// Package discovery locates job detail URLs on listing pages. The listing
// site's list-page markup assumptions are concentrated here: the selector
// cascade, the detail-URL pattern, and the search/probe paths.
package discovery

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	// SearchPath is the guest search endpoint the harvest pages through.
	SearchPath = "/jobs/search"
	// ProbePath reveals session state: signed-in sessions see content,
	// expired ones get redirected to a wall.
	ProbePath = "/feed"
	// detailPathFragment marks a job detail URL.
	detailPathFragment = "/jobs/view/"
)

// DefaultPerPageCap mirrors the site's listing page size.
const DefaultPerPageCap = 10

// strategy is one way of finding job cards on a listing page. Strategies
// run in order and the first one that yields any candidate wins outright;
// candidates from different strategies are never merged, so a partial match
// from a preferred selector is trusted over a broader scan.
type strategy struct {
	name string
	find func(doc *goquery.Document, base *url.URL) []string
}

// cascade is ordered from the most specific selector the site currently
// serves down to a last-resort scan of every anchor. The middle entries
// absorb the markup drift the site ships a few times a year.
var cascade = []strategy{
	{"results-list", findResultsList},
	{"card-container", findCardContainers},
	{"full-card-anchor", findFullCardAnchors},
	{"anchor-scan", findAnchorScan},
}

// Discover returns the detail-page URLs of one listing page: absolute,
// deduplicated, capped at perPageCap, in document order. An empty result
// means the page had no jobs; the caller treats that as a termination
// signal, not an error.
func Discover(doc *goquery.Document, base *url.URL, perPageCap int) []string {
	if perPageCap <= 0 {
		perPageCap = DefaultPerPageCap
	}

	for _, st := range cascade {
		urls := dedupe(st.find(doc, base))
		if len(urls) == 0 {
			continue
		}
		if len(urls) > perPageCap {
			urls = urls[:perPageCap]
		}
		zap.L().Debug("discovery: strategy matched",
			zap.String("strategy", st.name),
			zap.Int("candidates", len(urls)),
		)
		return urls
	}
	return nil
}

// IsDetailURL reports whether raw points at a job detail page.
func IsDetailURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, detailPathFragment)
}

func findResultsList(doc *goquery.Document, base *url.URL) []string {
	return collectNestedAnchors(doc.Find("ul.jobs-search__results-list > li"), base)
}

func findCardContainers(doc *goquery.Document, base *url.URL) []string {
	return collectNestedAnchors(doc.Find("div.base-search-card, li.result-card"), base)
}

func findFullCardAnchors(doc *goquery.Document, base *url.URL) []string {
	var urls []string
	doc.Find("a.base-card__full-link").Each(func(_ int, a *goquery.Selection) {
		if u := detailHref(a, base); u != "" {
			urls = append(urls, u)
		}
	})
	return urls
}

// findAnchorScan is the last resort: every anchor on the page whose href
// matches the detail pattern.
func findAnchorScan(doc *goquery.Document, base *url.URL) []string {
	var urls []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if u := detailHref(a, base); u != "" {
			urls = append(urls, u)
		}
	})
	return urls
}

// collectNestedAnchors takes the first detail anchor inside each container;
// containers without one contribute nothing.
func collectNestedAnchors(containers *goquery.Selection, base *url.URL) []string {
	var urls []string
	containers.Each(func(_ int, card *goquery.Selection) {
		card.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			u := detailHref(a, base)
			if u == "" {
				return true // keep looking inside this card
			}
			urls = append(urls, u)
			return false
		})
	})
	return urls
}

// detailHref resolves an anchor's href against the page URL and returns it
// if it is a detail link, stripped of tracking query and fragment.
func detailHref(a *goquery.Selection, base *url.URL) string {
	href, ok := a.Attr("href")
	if !ok || href == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if !strings.Contains(resolved.Path, detailPathFragment) {
		return ""
	}
	resolved.RawQuery = ""
	resolved.Fragment = ""
	return resolved.String()
}

func dedupe(urls []string) []string {
	if len(urls) < 2 {
		return urls
	}
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
