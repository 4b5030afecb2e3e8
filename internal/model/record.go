// Package model defines the core data structures shared across the harvest pipeline.
package model

import "time"

// ExtractionTier controls how much of a record the extractor is allowed to
// populate. The tier is decided once per run, before the first page fetch.
type ExtractionTier string

const (
	// TierRestricted redacts gated fields and skips all gated sub-fetches.
	TierRestricted ExtractionTier = "restricted"
	// TierFull populates every field the page offers.
	TierFull ExtractionTier = "full"
)

// RestrictedPlaceholder is the exact value written into every gated field of
// a restricted-tier record. Gated fields are never left empty and never
// mixed with real data.
const RestrictedPlaceholder = "Available with a full license"

// JobRecord is one harvested job posting. Title and CompanyName are the
// viability minimum; everything else is best-effort.
type JobRecord struct {
	Digest     string `json:"digest"`
	Title      string `json:"title"`
	ListingURL string `json:"listing_url"`

	CompanyName string `json:"company_name"`
	CompanyURL  string `json:"company_url,omitempty"`

	Location    string `json:"location,omitempty"`
	Environment string `json:"environment,omitempty"`
	JobType     string `json:"job_type,omitempty"`
	Seniority   string `json:"seniority,omitempty"`
	JobFunction string `json:"job_function,omitempty"`
	Industries  string `json:"industries,omitempty"`

	Description        string `json:"description,omitempty"`
	ApplicationContact string `json:"application_contact,omitempty"`

	Company CompanyProfile `json:"company"`

	HarvestedAt time.Time `json:"harvested_at"`
}

// CompanyProfile holds the labeled facts scraped from a company sub-page.
// All of it is tier-gated; a restricted run never fetches the sub-page.
type CompanyProfile struct {
	Industry         string `json:"industry,omitempty"`
	Size             string `json:"size,omitempty"`
	Headquarters     string `json:"headquarters,omitempty"`
	OrganizationType string `json:"organization_type,omitempty"`
	FoundedOn        string `json:"founded_on,omitempty"`
	Specialties      string `json:"specialties,omitempty"`
	Website          string `json:"website,omitempty"`
}

// Empty reports whether no profile field was populated.
func (p CompanyProfile) Empty() bool {
	return p == CompanyProfile{}
}
