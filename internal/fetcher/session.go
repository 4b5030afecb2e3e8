// Package fetcher implements the authenticated HTTP session the harvest
// runs on: one cookie jar, browser-shaped default headers, a request-rate
// floor, and bounded retries on transport errors and retryable statuses.
package fetcher

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/talentsift/harvest-cli/internal/resilience"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// maxBodyBytes caps how much of a response we read. Listing and detail
// pages are well under this; anything larger is not a page we want.
const maxBodyBytes = 10 << 20

// Options configures the session.
type Options struct {
	// Origin is the scheme+host of the listing site.
	Origin string
	// CookieFile optionally points at a JSON export of session cookies.
	CookieFile        string
	Timeout           time.Duration
	RequestsPerSecond float64
	AcceptLanguage    string
	UserAgent         string
	Retry             resilience.Config
}

// Response is a fully-read HTTP response. FinalURL is where the request
// actually landed after redirects; wall detection keys off it.
type Response struct {
	StatusCode int
	Header     http.Header
	FinalURL   string
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Session is the shared HTTP client for one harvest run.
type Session struct {
	client        *http.Client
	bare          *http.Client // identical but does not follow redirects
	limiter       *rate.Limiter
	retry         resilience.Config
	headers       map[string]string
	origin        *url.URL
	authenticated bool
}

// NewSession builds the session and injects cookies from Options.CookieFile.
// A missing or malformed cookie file degrades to an unauthenticated session;
// only a structurally broken Options (unparseable origin) is an error.
func NewSession(opts Options) (*Session, error) {
	origin, err := url.Parse(opts.Origin)
	if err != nil || !origin.IsAbs() || origin.Host == "" {
		return nil, eris.Errorf("session: origin %q is not an absolute URL", opts.Origin)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = "en-US,en;q=0.9"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultConfig()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "session: cookie jar")
	}

	authenticated := false
	if opts.CookieFile != "" {
		n, err := installCookies(jar, opts.CookieFile, origin)
		switch {
		case err != nil:
			zap.L().Warn("session: cookie injection failed, continuing unauthenticated",
				zap.String("cookie_file", opts.CookieFile),
				zap.Error(err),
			)
		case n == 0:
			zap.L().Warn("session: cookie file held no usable cookies, continuing unauthenticated",
				zap.String("cookie_file", opts.CookieFile),
			)
		default:
			authenticated = true
			zap.L().Info("session: cookies injected", zap.Int("count", n))
		}
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Session{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		bare: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		retry:   opts.Retry,
		headers: map[string]string{
			"User-Agent":                opts.UserAgent,
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language":           opts.AcceptLanguage,
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
		},
		origin:        origin,
		authenticated: authenticated,
	}, nil
}

// Authenticated reports whether cookie injection succeeded. Informational
// only; an unauthenticated session still harvests what guests can see.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Origin returns the configured listing-site origin.
func (s *Session) Origin() *url.URL {
	u := *s.origin
	return &u
}

// Get fetches rawURL following redirects, retrying transport errors and
// retryable statuses under the session's retry policy.
func (s *Session) Get(ctx context.Context, rawURL string) (*Response, error) {
	return s.get(ctx, s.client, rawURL, s.retry)
}

// GetNoRedirect fetches rawURL but stops at the first response, so 3xx
// come back as-is with their Location header.
func (s *Session) GetNoRedirect(ctx context.Context, rawURL string) (*Response, error) {
	return s.get(ctx, s.bare, rawURL, s.retry)
}

// GetOnce is a single-attempt Get for best-effort probes.
func (s *Session) GetOnce(ctx context.Context, rawURL string) (*Response, error) {
	cfg := s.retry
	cfg.MaxAttempts = 1
	return s.get(ctx, s.client, rawURL, cfg)
}

func (s *Session) get(ctx context.Context, client *http.Client, rawURL string, retry resilience.Config) (*Response, error) {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("session", "get")
	}

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Response, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "session: rate limiter wait")
		}
		return s.attempt(ctx, client, rawURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "session: get %s", rawURL)
	}
	return resp, nil
}

// attempt performs one request. Transport failures and retryable statuses
// come back as TransientError so the retry layer tries again; every other
// status is returned to the caller for inspection.
func (s *Session) attempt(ctx context.Context, client *http.Client, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "session: build request for %s", rawURL)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.RetryableStatus(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, resilience.NewTransientError(
			eris.Errorf("http %d from %s", resp.StatusCode, rawURL),
			resp.StatusCode,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		FinalURL:   resp.Request.URL.String(),
		Body:       decodeBody(resp.Header.Get("Content-Type"), body),
	}, nil
}

// decodeBody converts a response body to UTF-8 using the Content-Type
// charset. Unknown or missing charsets pass the bytes through unchanged.
func decodeBody(contentType string, body []byte) []byte {
	if contentType == "" {
		return body
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body
	}
	cs, ok := params["charset"]
	if !ok || strings.EqualFold(cs, "utf-8") {
		return body
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}
