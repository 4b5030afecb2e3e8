package fetcher

import (
	"net/url"
	"strings"
)

// WallType describes the kind of interstitial a request landed on.
type WallType string

const (
	WallNone WallType = ""
	// WallLogin is a sign-in page or authwall.
	WallLogin WallType = "login"
	// WallVerification is a captcha/checkpoint challenge.
	WallVerification WallType = "verification"
)

// wallPathMarkers are URL path fragments of the listing site's login and
// challenge pages. The final URL is the primary signal: content pages never
// redirect there.
var wallPathMarkers = []struct {
	fragment string
	kind     WallType
}{
	{"/authwall", WallLogin},
	{"/login", WallLogin},
	{"/uas/", WallLogin},
	{"/checkpoint", WallVerification},
	{"/challenge", WallVerification},
}

// wallBodyIndicators only fire on phrases that never appear on content
// pages. Generic chrome like a "sign in" nav link must not match.
var wallBodyIndicators = []struct {
	phrase string
	kind   WallType
}{
	{"authwall", WallLogin},
	{"login_required", WallLogin},
	{"sign up to view", WallLogin},
	{"please log in to continue", WallLogin},
	{"recaptcha", WallVerification},
	{"hcaptcha", WallVerification},
	{"challenge-form", WallVerification},
}

// DetectWall reports whether a response landed on a login or verification
// interstitial instead of content.
func DetectWall(finalURL string, body []byte) (bool, WallType) {
	if u, err := url.Parse(finalURL); err == nil {
		path := strings.ToLower(u.Path)
		for _, m := range wallPathMarkers {
			if strings.Contains(path, m.fragment) {
				return true, m.kind
			}
		}
	}

	lower := strings.ToLower(string(body))
	for _, ind := range wallBodyIndicators {
		if strings.Contains(lower, ind.phrase) {
			return true, ind.kind
		}
	}

	return false, WallNone
}
