// Package wordpress provides a client for the jobsync WordPress plugin's
// REST endpoints. Both endpoints upsert: companies are keyed by name, jobs
// by their identity digest, so replaying a record is always safe.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/talentsift/harvest-cli/internal/model"
)

const (
	companiesPath = "/wp-json/jobsync/v1/companies"
	jobsPath      = "/wp-json/jobsync/v1/jobs"
)

// Client defines the jobsync plugin operations.
type Client interface {
	// UpsertCompany pushes the record's employer and returns the CMS post ID.
	UpsertCompany(ctx context.Context, rec *model.JobRecord) (*UpsertResult, error)
	// UpsertJob pushes the job itself, linked to a previously upserted
	// company when companyID is non-zero.
	UpsertJob(ctx context.Context, rec *model.JobRecord, companyID int64) (*UpsertResult, error)
	// Ping verifies the endpoint and credentials without writing anything.
	Ping(ctx context.Context) error
}

// UpsertResult is the plugin's answer: the post ID and whether the call
// created or updated it.
type UpsertResult struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Created reports whether the upsert made a new post.
func (r *UpsertResult) Created() bool {
	return r.Status == "created"
}

type companyPayload struct {
	Name             string `json:"name"`
	SourceURL        string `json:"source_url,omitempty"`
	Industry         string `json:"industry,omitempty"`
	Size             string `json:"size,omitempty"`
	Headquarters     string `json:"headquarters,omitempty"`
	OrganizationType string `json:"organization_type,omitempty"`
	FoundedOn        string `json:"founded_on,omitempty"`
	Specialties      string `json:"specialties,omitempty"`
	Website          string `json:"website,omitempty"`
}

type jobPayload struct {
	Digest             string    `json:"digest"`
	Title              string    `json:"title"`
	CompanyID          int64     `json:"company_id,omitempty"`
	CompanyName        string    `json:"company_name,omitempty"`
	ListingURL         string    `json:"listing_url"`
	Location           string    `json:"location,omitempty"`
	Environment        string    `json:"environment,omitempty"`
	JobType            string    `json:"job_type,omitempty"`
	Seniority          string    `json:"seniority,omitempty"`
	JobFunction        string    `json:"job_function,omitempty"`
	Industries         string    `json:"industries,omitempty"`
	Description        string    `json:"description,omitempty"`
	ApplicationContact string    `json:"application_contact,omitempty"`
	HarvestedAt        time.Time `json:"harvested_at"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithMaxRetries sets how many attempts a transient failure gets in total.
func WithMaxRetries(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial retry backoff (for testing).
func WithBackoff(d time.Duration) Option {
	return func(c *httpClient) {
		c.backoff = d
	}
}

type httpClient struct {
	baseURL     string
	username    string
	appPassword string
	maxAttempts int
	backoff     time.Duration
	http        *http.Client
}

// NewClient creates a jobsync client authenticated with a WordPress
// application password.
func NewClient(baseURL, username, appPassword string, opts ...Option) Client {
	c := &httpClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		username:    username,
		appPassword: appPassword,
		maxAttempts: 3,
		backoff:     time.Second,
		http: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) UpsertCompany(ctx context.Context, rec *model.JobRecord) (*UpsertResult, error) {
	if rec.CompanyName == "" {
		return nil, eris.New("wordpress: record has no company name")
	}
	return c.upsert(ctx, companiesPath, companyPayload{
		Name:             rec.CompanyName,
		SourceURL:        rec.CompanyURL,
		Industry:         rec.Company.Industry,
		Size:             rec.Company.Size,
		Headquarters:     rec.Company.Headquarters,
		OrganizationType: rec.Company.OrganizationType,
		FoundedOn:        rec.Company.FoundedOn,
		Specialties:      rec.Company.Specialties,
		Website:          rec.Company.Website,
	})
}

func (c *httpClient) UpsertJob(ctx context.Context, rec *model.JobRecord, companyID int64) (*UpsertResult, error) {
	if rec.Digest == "" {
		return nil, eris.New("wordpress: record has no digest")
	}
	return c.upsert(ctx, jobsPath, jobPayload{
		Digest:             rec.Digest,
		Title:              rec.Title,
		CompanyID:          companyID,
		CompanyName:        rec.CompanyName,
		ListingURL:         rec.ListingURL,
		Location:           rec.Location,
		Environment:        rec.Environment,
		JobType:            rec.JobType,
		Seniority:          rec.Seniority,
		JobFunction:        rec.JobFunction,
		Industries:         rec.Industries,
		Description:        rec.Description,
		ApplicationContact: rec.ApplicationContact,
		HarvestedAt:        rec.HarvestedAt,
	})
}

// Ping issues a GET against the jobs endpoint. The plugin answers 200 with
// valid credentials and 401/403 without.
func (c *httpClient) Ping(ctx context.Context) error {
	body, statusCode, err := c.retryDo(ctx, http.MethodGet, c.baseURL+jobsPath, nil)
	if err != nil {
		return eris.Wrap(err, "wordpress: ping failed")
	}
	if statusCode != http.StatusOK {
		return eris.Errorf("wordpress: ping status %d: %s", statusCode, truncate(body, 200))
	}
	return nil
}

func (c *httpClient) upsert(ctx context.Context, path string, payload any) (*UpsertResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "wordpress: marshal payload")
	}

	body, statusCode, err := c.retryDo(ctx, http.MethodPost, c.baseURL+path, data)
	if err != nil {
		return nil, eris.Wrapf(err, "wordpress: POST %s failed", path)
	}

	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		return nil, eris.Errorf("wordpress: POST %s status %d: %s", path, statusCode, truncate(body, 200))
	}

	var result UpsertResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrapf(err, "wordpress: unmarshal %s response", path)
	}
	return &result, nil
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// retryDo executes a request with exponential backoff on transport errors
// and retryable statuses. The request is rebuilt each attempt so the body
// can be resent.
func (c *httpClient) retryDo(ctx context.Context, method, reqURL string, payload []byte) ([]byte, int, error) {
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, 0, eris.Wrap(err, "wordpress: create request")
		}
		req.SetBasicAuth(c.username, c.appPassword)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "wordpress: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < c.maxAttempts {
			lastErr = eris.Errorf("wordpress: status %d: %s", resp.StatusCode, truncate(body, 200))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
