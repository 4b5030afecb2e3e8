// Package license decides the extraction tier for a run. The decision is
// made once, before the first page fetch, and never revisited: a failed
// check degrades to the restricted tier instead of aborting the run.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/talentsift/harvest-cli/internal/model"
)

// Checker verifies the license and reports the tier the run may use.
// Implementations return TierRestricted alongside any error; callers log
// the error and keep the degraded tier.
type Checker interface {
	Verify(ctx context.Context) (model.ExtractionTier, error)
}

// Static always reports a fixed tier. Used when the operator pins the tier
// in config, and for air-gapped setups with no validation endpoint.
type Static struct {
	tier model.ExtractionTier
}

// NewStatic returns a checker pinned to the given tier.
func NewStatic(tier model.ExtractionTier) *Static {
	return &Static{tier: tier}
}

func (s *Static) Verify(context.Context) (model.ExtractionTier, error) {
	return s.tier, nil
}

// HTTP validates a license key against a remote endpoint.
type HTTP struct {
	endpoint string
	key      string
	http     *http.Client
}

// HTTPOption configures the HTTP checker.
type HTTPOption func(*HTTP)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTP) {
		c.http = hc
	}
}

// NewHTTP returns a checker that POSTs the key to the validation endpoint.
func NewHTTP(endpoint, key string, opts ...HTTPOption) *HTTP {
	c := &HTTP{
		endpoint: endpoint,
		key:      key,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type verifyRequest struct {
	Key string `json:"key"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// Verify asks the endpoint whether the key is valid. A definitive "invalid"
// answer is not an error; transport failures, non-2xx statuses and unreadable
// responses are, and all of them come back with TierRestricted.
func (c *HTTP) Verify(ctx context.Context) (model.ExtractionTier, error) {
	payload, err := json.Marshal(verifyRequest{Key: c.key})
	if err != nil {
		return model.TierRestricted, eris.Wrap(err, "license: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return model.TierRestricted, eris.Wrap(err, "license: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.TierRestricted, eris.Wrap(err, "license: validation request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.TierRestricted, eris.Wrap(err, "license: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return model.TierRestricted, eris.Errorf("license: validation status %d", resp.StatusCode)
	}

	var result verifyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return model.TierRestricted, eris.Wrap(err, "license: unmarshal response")
	}
	if !result.Valid {
		return model.TierRestricted, nil
	}
	return model.TierFull, nil
}
