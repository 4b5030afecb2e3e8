package fetcher

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Cookie is one entry of a browser cookie export.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// installCookies reads a JSON cookie export and sets the cookies into the
// jar grouped by domain, so each is scoped the way the browser scoped it.
// Entries without a domain fall back to the listing-site origin. Returns
// how many cookies were installed.
func installCookies(jar http.CookieJar, path string, origin *url.URL) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "read cookie file %s", path)
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return 0, eris.Wrap(err, "parse cookie file")
	}

	byDomain := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		if c.Name == "" || c.Value == "" {
			continue
		}
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = origin.Hostname()
		}
		byDomain[domain] = append(byDomain[domain], &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   "/",
		})
	}

	installed := 0
	for domain, group := range byDomain {
		scope := &url.URL{Scheme: "https", Host: domain}
		jar.SetCookies(scope, group)
		installed += len(group)
	}
	return installed, nil
}
