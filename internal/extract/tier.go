package extract

import "github.com/talentsift/harvest-cli/internal/model"

// ApplyTier is the single place tier redaction happens. On a restricted
// tier every gated field is overwritten with the placeholder; the record
// keeps only its identity fields: title, company name and URL, location
// and listing URL. A full tier passes the record through untouched.
func ApplyTier(rec *model.JobRecord, tier model.ExtractionTier) {
	if tier == model.TierFull {
		return
	}
	ph := model.RestrictedPlaceholder
	rec.Environment = ph
	rec.JobType = ph
	rec.Seniority = ph
	rec.JobFunction = ph
	rec.Industries = ph
	rec.Description = ph
	rec.ApplicationContact = ph
	rec.Company = model.CompanyProfile{
		Industry:         ph,
		Size:             ph,
		Headquarters:     ph,
		OrganizationType: ph,
		FoundedOn:        ph,
		Specialties:      ph,
		Website:          ph,
	}
}
