package extract

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/talentsift/harvest-cli/internal/fetcher"
)

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// applyAnchorSelector matches the dedicated apply button when the page has
// one; applyKeywords is the fallback scan over description links.
const applyAnchorSelector = `a[class*="apply"]`

var applyKeywords = []string{"apply", "careers", "jobs"}

// resolveContact works down the contact ladder: an email in the description
// wins outright, then an apply link is followed one hop and the landing URL
// (or an email found there) is used. A hop that fails with a DNS-style error
// still yields a contact when the target host can be recovered from the
// error. Preference when several signals exist: email, then resolved URL,
// then the raw description URL, then empty.
func (e *Extractor) resolveContact(ctx context.Context, doc *goquery.Document, base *url.URL, description string) string {
	if email := emailRe.FindString(description); email != "" {
		return email
	}

	candidate := applyLink(doc, base)
	if candidate == "" {
		return ""
	}

	resp, err := e.session.GetOnce(ctx, candidate)
	if err != nil {
		if host := fetcher.HostFromError(err); host != "" {
			return "https://" + host
		}
		zap.L().Debug("apply link unreachable", zap.String("url", candidate), zap.Error(err))
		return candidate
	}
	if email := emailRe.FindString(string(resp.Body)); email != "" {
		return email
	}
	if resp.FinalURL != "" {
		return resp.FinalURL
	}
	return candidate
}

// applyLink picks the page's best outbound application link: the explicit
// apply anchor when present, otherwise the first description link whose
// target or text suggests an application or careers page.
func applyLink(doc *goquery.Document, base *url.URL) string {
	if href, ok := doc.Find(applyAnchorSelector).First().Attr("href"); ok {
		if resolved := resolveHref(base, href); resolved != "" {
			return resolved
		}
	}

	var found string
	doc.Find(descriptionSelector).First().Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		haystack := strings.ToLower(href + " " + a.Text())
		for _, kw := range applyKeywords {
			if strings.Contains(haystack, kw) {
				if resolved := resolveHref(base, href); resolved != "" {
					found = resolved
					return false
				}
			}
		}
		return true
	})
	return found
}
