package extract

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentsift/harvest-cli/internal/fetcher"
	"github.com/talentsift/harvest-cli/internal/model"
	"github.com/talentsift/harvest-cli/internal/resilience"
	"github.com/talentsift/harvest-cli/internal/sanitize"
)

// The about section renders every attribute as a labeled block; one rule
// covers all of them. anySection is the render probe: a page that loaded
// but has none of these blocks counts as an empty render and is retried.
const anySectionSelector = `[data-test-id^="about-us__"]`

var companyFields = []struct {
	selector string
	assign   func(p *model.CompanyProfile, v string)
}{
	{`[data-test-id="about-us__industry"] dd`, func(p *model.CompanyProfile, v string) { p.Industry = v }},
	{`[data-test-id="about-us__size"] dd`, func(p *model.CompanyProfile, v string) { p.Size = v }},
	{`[data-test-id="about-us__headquarters"] dd`, func(p *model.CompanyProfile, v string) { p.Headquarters = v }},
	{`[data-test-id="about-us__organizationType"] dd`, func(p *model.CompanyProfile, v string) { p.OrganizationType = v }},
	{`[data-test-id="about-us__foundedOn"] dd`, func(p *model.CompanyProfile, v string) { p.FoundedOn = v }},
	{`[data-test-id="about-us__specialties"] dd`, func(p *model.CompanyProfile, v string) { p.Specialties = v }},
}

const (
	websiteAnchorSelector = `[data-test-id="about-us__website"] a`
	websiteTextSelector   = `[data-test-id="about-us__website"] dd`
)

// Company fetches an employer's about page and extracts its profile. The
// sub-page intermittently serves an empty shell, so the whole fetch-and-
// check runs up to three times two seconds apart. Results are cached per
// company URL for the life of the extractor, failures included.
func (e *Extractor) Company(ctx context.Context, companyURL string) (model.CompanyProfile, error) {
	if cached, ok := e.profiles[companyURL]; ok {
		return cached, nil
	}

	profile, err := resilience.DoVal(ctx, e.companyRetry, func(ctx context.Context) (model.CompanyProfile, error) {
		return e.companyAttempt(ctx, companyURL)
	})
	if err != nil {
		e.profiles[companyURL] = model.CompanyProfile{}
		return model.CompanyProfile{}, err
	}

	e.profiles[companyURL] = profile
	return profile, nil
}

func (e *Extractor) companyAttempt(ctx context.Context, companyURL string) (model.CompanyProfile, error) {
	var profile model.CompanyProfile

	resp, err := e.session.Get(ctx, companyURL)
	if err != nil {
		return profile, err
	}
	if !resp.OK() {
		return profile, eris.Errorf("company page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return profile, eris.Wrap(err, "parsing company page")
	}
	if doc.Find(anySectionSelector).Length() == 0 {
		return profile, eris.New("company page rendered without its about section")
	}

	for _, field := range companyFields {
		field.assign(&profile, sanitize.Normalize(doc.Find(field.selector).First().Text()))
	}
	profile.Website = e.resolveWebsite(ctx, doc, companyURL)
	return profile, nil
}

// resolveWebsite extracts the employer's own website. The raw anchor often
// points at an interstitial redirect wrapper; the true target is unwrapped
// from its query string when possible, otherwise followed one hop. Links
// that circle back to the listing site itself are discarded.
func (e *Extractor) resolveWebsite(ctx context.Context, doc *goquery.Document, companyURL string) string {
	raw := strings.TrimSpace(doc.Find(websiteAnchorSelector).First().AttrOr("href", ""))
	if raw == "" {
		raw = strings.TrimSpace(doc.Find(websiteTextSelector).First().Text())
	}
	if raw == "" {
		return ""
	}

	base, err := url.Parse(companyURL)
	if err != nil {
		return ""
	}

	resolved := resolveFullHref(base, raw)
	if resolved == "" {
		return ""
	}
	resolved = unwrapRedirect(resolved)

	// Still on the listing site after unwrapping: follow the wrapper one
	// hop and take wherever it lands.
	if sameHost(resolved, base) {
		resp, err := e.session.GetOnce(ctx, resolved)
		if err != nil {
			if host := fetcher.HostFromError(err); host != "" && host != base.Hostname() {
				return "https://" + host
			}
			zap.L().Debug("website link unreachable", zap.String("url", resolved), zap.Error(err))
			return ""
		}
		resolved = resp.FinalURL
	}

	if resolved == "" || sameHost(resolved, base) {
		return ""
	}
	return resolved
}

// unwrapRedirect extracts the true destination from an interstitial
// redirect wrapper of the form .../redir/redirect?...&url=<encoded>. URLs
// that are not wrappers pass through unchanged.
func unwrapRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !strings.Contains(u.Path, "redir") {
		return raw
	}
	target := u.Query().Get("url")
	if target == "" {
		return raw
	}
	if t, err := url.Parse(target); err != nil || !t.IsAbs() {
		return raw
	}
	return target
}

// resolveFullHref absolutizes an href but, unlike resolveHref, keeps the
// query string: a redirect wrapper carries its destination there.
func resolveFullHref(base *url.URL, href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func sameHost(raw string, base *url.URL) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), base.Hostname())
}
