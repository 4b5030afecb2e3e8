// Package extract turns fetched detail pages into job records. Every field
// beyond the title is best-effort: a selector that matches nothing leaves
// the field empty and the record proceeds. Only a page that fails to load,
// fails to parse, or carries no title aborts the record.
package extract

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentsift/harvest-cli/internal/fetcher"
	"github.com/talentsift/harvest-cli/internal/model"
	"github.com/talentsift/harvest-cli/internal/resilience"
	"github.com/talentsift/harvest-cli/internal/sanitize"
)

// Detail-page shape. The title carries two selector generations because the
// site serves both card layouts depending on cohort.
const (
	titleSelector       = "h1.top-card-layout__title, h1.topcard__title"
	companyLinkSelector = "a.topcard__org-name-link, span.topcard__flavor a"
	locationSelector    = "span.topcard__flavor--bullet"
	workplaceSelector   = "span.topcard__flavor--workplace-type"
	criteriaSelector    = "ul.description__job-criteria-list > li"
	criteriaValue       = "span.description__job-criteria-text"
	descriptionSelector = "div.show-more-less-html__markup, div.description__text"
)

// The criteria list renders its items in a fixed order regardless of
// locale, so position is the reliable signal, not the localized header.
const (
	criteriaSeniority = iota
	criteriaJobType
	criteriaJobFunction
	criteriaIndustries
)

// Extractor produces job records from detail pages over an authenticated
// (or degraded) session. Company profiles are cached per run so a page of
// postings from one employer costs a single sub-page fetch.
type Extractor struct {
	session      *fetcher.Session
	tier         model.ExtractionTier
	profiles     map[string]model.CompanyProfile
	companyRetry resilience.Config
}

func New(session *fetcher.Session, tier model.ExtractionTier) *Extractor {
	return &Extractor{
		session:      session,
		tier:         tier,
		profiles:     make(map[string]model.CompanyProfile),
		companyRetry: resilience.Fixed(3, 2*time.Second),
	}
}

// Tier reports the tier this extractor redacts to.
func (e *Extractor) Tier() model.ExtractionTier {
	return e.tier
}

// Job fetches one detail page and extracts a record from it. Gated fields
// are only pursued on a full tier; on a restricted tier no sub-page or
// contact fetch happens and the gated fields carry the placeholder.
func (e *Extractor) Job(ctx context.Context, jobURL string) (*model.JobRecord, error) {
	resp, err := e.session.Get(ctx, jobURL)
	if err != nil {
		return nil, &ExtractionError{URL: jobURL, Err: err}
	}
	if walled, wall := fetcher.DetectWall(resp.FinalURL, resp.Body); walled {
		return nil, &ExtractionError{URL: jobURL, Wall: wall}
	}
	if !resp.OK() {
		return nil, &ExtractionError{URL: jobURL, Err: eris.Errorf("detail page returned status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &ExtractionError{URL: jobURL, Err: eris.Wrap(err, "parsing detail page")}
	}

	title := sanitize.Normalize(doc.Find(titleSelector).First().Text())
	if title == "" {
		return nil, &ExtractionError{URL: jobURL, Err: eris.New("detail page has no title")}
	}

	base, err := url.Parse(jobURL)
	if err != nil {
		return nil, &ExtractionError{URL: jobURL, Err: eris.Wrap(err, "parsing detail URL")}
	}

	rec := &model.JobRecord{
		Title:       title,
		ListingURL:  jobURL,
		HarvestedAt: time.Now().UTC(),
	}

	companyLink := doc.Find(companyLinkSelector).First()
	rec.CompanyName = sanitize.Normalize(companyLink.Text())
	if href, ok := companyLink.Attr("href"); ok {
		rec.CompanyURL = resolveHref(base, href)
	}
	rec.Location = sanitize.SplitLocation(doc.Find(locationSelector).First().Text())

	rec.Environment = sanitize.Normalize(doc.Find(workplaceSelector).First().Text())
	e.extractCriteria(doc, rec)

	paragraphs := descriptionParagraphs(doc)
	rec.Description = sanitize.CleanDescription(paragraphs)

	if e.tier == model.TierFull {
		rec.ApplicationContact = e.resolveContact(ctx, doc, base, strings.Join(paragraphs, "\n"))
		if rec.CompanyURL != "" {
			profile, err := e.Company(ctx, rec.CompanyURL)
			if err != nil {
				zap.L().Warn("company profile unavailable",
					zap.String("company_url", rec.CompanyURL),
					zap.Error(err))
			} else {
				rec.Company = profile
			}
		}
	}

	ApplyTier(rec, e.tier)
	return rec, nil
}

// extractCriteria fills the four positional criteria fields. A short or
// absent list leaves the remaining fields empty.
func (e *Extractor) extractCriteria(doc *goquery.Document, rec *model.JobRecord) {
	doc.Find(criteriaSelector).Each(func(i int, item *goquery.Selection) {
		value := sanitize.Normalize(item.Find(criteriaValue).First().Text())
		if value == "" {
			return
		}
		switch i {
		case criteriaSeniority:
			rec.Seniority = value
		case criteriaJobType:
			rec.JobType = CanonicalJobType(value)
		case criteriaJobFunction:
			rec.JobFunction = value
		case criteriaIndustries:
			rec.Industries = value
		}
	})
}

// descriptionParagraphs collects the description body as raw paragraph
// texts, one per block element. A container with no block children yields
// its whole text as a single paragraph.
func descriptionParagraphs(doc *goquery.Document) []string {
	container := doc.Find(descriptionSelector).First()
	if container.Length() == 0 {
		return nil
	}
	var paragraphs []string
	container.Find("p, li").Each(func(_ int, s *goquery.Selection) {
		paragraphs = append(paragraphs, s.Text())
	})
	if len(paragraphs) == 0 {
		paragraphs = []string{container.Text()}
	}
	return paragraphs
}

// resolveHref absolutizes an anchor target against the page it appeared on
// and drops tracking query parameters. Unparseable targets resolve to "".
func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	resolved.RawQuery = ""
	resolved.Fragment = ""
	return resolved.String()
}
