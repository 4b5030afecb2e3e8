package wordpress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/harvest-cli/internal/model"
)

func sampleRecord() *model.JobRecord {
	return &model.JobRecord{
		Digest:             "9f2c1a40d6e8b3a1",
		Title:              "Backend Engineer",
		CompanyName:        "Acme GmbH",
		CompanyURL:         "https://boards.example.com/company/acme-gmbh",
		ListingURL:         "https://boards.example.com/jobs/view/backend-engineer-4021",
		Location:           "Berlin, Germany",
		Environment:        "Hybrid",
		JobType:            "Full-time",
		Seniority:          "Mid-Senior level",
		JobFunction:        "Engineering",
		Industries:         "Logistics",
		Description:        "We build data plumbing for mid-market logistics.",
		ApplicationContact: "jobs@acme.example",
		HarvestedAt:        time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC),
		Company: model.CompanyProfile{
			Industry:     "Transportation",
			Size:         "51-200 employees",
			Headquarters: "Berlin, DE",
			Website:      "https://acme.example",
		},
	}
}

func TestUpsertJob_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/wp-json/jobsync/v1/jobs", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "sync-bot", user)
		require.Equal(t, "abcd efgh ijkl", pass)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "9f2c1a40d6e8b3a1", payload["digest"])
		assert.Equal(t, "Backend Engineer", payload["title"])
		assert.Equal(t, float64(77), payload["company_id"])
		assert.Equal(t, "Full-time", payload["job_type"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 421, "status": "created"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sync-bot", "abcd efgh ijkl")
	result, err := c.UpsertJob(context.Background(), sampleRecord(), 77)
	require.NoError(t, err)
	assert.Equal(t, int64(421), result.ID)
	assert.True(t, result.Created())
}

func TestUpsertJob_UpdatedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": 421, "status": "updated"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sync-bot", "pw")
	result, err := c.UpsertJob(context.Background(), sampleRecord(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(421), result.ID)
	assert.False(t, result.Created())
}

func TestUpsertJob_OmitsZeroCompanyID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, present := payload["company_id"]
		assert.False(t, present, "zero company_id should be omitted")
		_, _ = w.Write([]byte(`{"id": 5, "status": "created"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sync-bot", "pw")
	_, err := c.UpsertJob(context.Background(), sampleRecord(), 0)
	require.NoError(t, err)
}

func TestUpsertJob_RetriesOnServerError(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": 9, "status": "created"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sync-bot", "pw", WithBackoff(time.Millisecond))
	result, err := c.UpsertJob(context.Background(), sampleRecord(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.ID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestUpsertJob_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sync-bot", "pw", WithMaxRetries(2), WithBackoff(time.Millisecond))
	_, err := c.UpsertJob(context.Background(), sampleRecord(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 504")
	assert.Equal(t, int32(2), attempts.Load())
}

func TestUpsertJob_ClientErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "digest is required"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sync-bot", "pw", WithBackoff(time.Millisecond))
	_, err := c.UpsertJob(context.Background(), sampleRecord(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
	assert.Contains(t, err.Error(), "digest is required")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestUpsertJob_MissingDigest(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:1", "sync-bot", "pw")
	rec := sampleRecord()
	rec.Digest = ""
	_, err := c.UpsertJob(context.Background(), rec, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no digest")
}

func TestUpsertJob_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sync-bot", "pw")
	_, err := c.UpsertJob(context.Background(), sampleRecord(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestUpsertCompany_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wp-json/jobsync/v1/companies", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Acme GmbH", payload["name"])
		assert.Equal(t, "Transportation", payload["industry"])
		assert.Equal(t, "https://acme.example", payload["website"])
		_, present := payload["founded_on"]
		assert.False(t, present, "empty profile fields should be omitted")

		_, _ = w.Write([]byte(`{"id": 77, "status": "updated"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sync-bot", "pw")
	result, err := c.UpsertCompany(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.Equal(t, int64(77), result.ID)
}

func TestUpsertCompany_MissingName(t *testing.T) {
	t.Parallel()

	c := NewClient("http://localhost:1", "sync-bot", "pw")
	rec := sampleRecord()
	rec.CompanyName = ""
	_, err := c.UpsertCompany(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no company name")
}

func TestPing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		if user != "sync-bot" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"jobs": []}`))
	}))
	defer srv.Close()

	good := NewClient(srv.URL, "sync-bot", "pw")
	require.NoError(t, good.Ping(context.Background()))

	bad := NewClient(srv.URL, "intruder", "pw")
	err := bad.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestUpsertJob_ContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte(`{"id": 1, "status": "created"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, "sync-bot", "pw")
	_, err := c.UpsertJob(ctx, sampleRecord(), 0)
	require.Error(t, err)
}
