package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/harvest-cli/internal/resilience"
)

func fastRetry(attempts int) resilience.Config {
	return resilience.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func testSession(t *testing.T, serverURL string, opts Options) *Session {
	t.Helper()
	opts.Origin = serverURL
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 1000
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fastRetry(3)
	}
	s, err := NewSession(opts)
	require.NoError(t, err)
	return s
}

func TestNewSession_RejectsBadOrigin(t *testing.T) {
	t.Parallel()

	_, err := NewSession(Options{Origin: "jobs.example.com"})
	assert.Error(t, err)

	_, err = NewSession(Options{Origin: ""})
	assert.Error(t, err)
}

func TestSessionGet_SetsBrowserHeaders(t *testing.T) {
	var gotUA, gotLang, gotUpgrade string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		gotUpgrade = r.Header.Get("Upgrade-Insecure-Requests")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := testSession(t, srv.URL, Options{})
	resp, err := s.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, resp.OK())

	assert.Contains(t, gotUA, "Mozilla/5.0")
	assert.Contains(t, gotUA, "Chrome")
	assert.Equal(t, "en-US,en;q=0.9", gotLang)
	assert.Equal(t, "1", gotUpgrade)
}

func TestSessionGet_RetriesRetryableStatus(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	s := testSession(t, srv.URL, Options{Retry: fastRetry(4)})
	resp, err := s.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "finally", string(resp.Body))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSessionGet_NoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := testSession(t, srv.URL, Options{})
	resp, err := s.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSessionGet_ExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := testSession(t, srv.URL, Options{Retry: fastRetry(4)})
	_, err := s.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(4), attempts.Load())
}

func TestSessionGet_ReportsFinalURLAfterRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landed", http.StatusFound)
	})
	mux.HandleFunc("/landed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("content"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := testSession(t, srv.URL, Options{})
	resp, err := s.Get(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/landed", resp.FinalURL)
	assert.Equal(t, "content", string(resp.Body))
}

func TestSessionGetNoRedirect_StopsAtFirstResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	s := testSession(t, srv.URL, Options{})
	resp, err := s.GetNoRedirect(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
}

func TestSessionGet_DecodesLegacyCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.Write([]byte{'c', 'a', 'f', 0xE9}) // "café" in latin-1
	}))
	defer srv.Close()

	s := testSession(t, srv.URL, Options{})
	resp, err := s.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "café", string(resp.Body))
}

func TestNewSession_InjectsCookies(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("li_sess"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	host := srv.Listener.Addr().String()
	dir := t.TempDir()
	cookieFile := filepath.Join(dir, "cookies.json")
	require.NoError(t, os.WriteFile(cookieFile,
		[]byte(`[{"name":"li_sess","value":"secret-token","domain":"127.0.0.1"}]`), 0600))

	s := testSession(t, srv.URL, Options{CookieFile: cookieFile})
	assert.True(t, s.Authenticated())

	_, err := s.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", gotCookie, "cookie should reach host %s", host)
}

func TestNewSession_MalformedCookiesDegradeToUnauthenticated(t *testing.T) {
	dir := t.TempDir()
	cookieFile := filepath.Join(dir, "cookies.json")
	require.NoError(t, os.WriteFile(cookieFile, []byte(`{"not":"an array"`), 0600))

	s, err := NewSession(Options{
		Origin:     "https://jobs.example.com",
		CookieFile: cookieFile,
	})
	require.NoError(t, err, "malformed cookies are never fatal")
	assert.False(t, s.Authenticated())
}

func TestNewSession_MissingCookieFileDegradesToUnauthenticated(t *testing.T) {
	s, err := NewSession(Options{
		Origin:     "https://jobs.example.com",
		CookieFile: "/nonexistent/cookies.json",
	})
	require.NoError(t, err)
	assert.False(t, s.Authenticated())
}

func TestNewSession_NoCookieFileConfigured(t *testing.T) {
	s, err := NewSession(Options{Origin: "https://jobs.example.com"})
	require.NoError(t, err)
	assert.False(t, s.Authenticated())
}
