package extract

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/harvest-cli/internal/model"
)

func TestContact_EmailInDescriptionWins(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<h1 class="topcard__title">Platform Engineer</h1>
<div class="show-more-less-html__markup">
  <p>Email talent@acme.example with your CV.</p>
  <p><a href="/apply/platform">Apply now</a></p>
</div>
</body></html>`

	var applyHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/view/platform-1", serveHTML(page))
	mux.HandleFunc("/apply/", func(w http.ResponseWriter, _ *http.Request) {
		applyHits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ex := newTestExtractor(t, srv, model.TierFull)
	rec, err := ex.Job(context.Background(), srv.URL+"/jobs/view/platform-1")
	require.NoError(t, err)

	assert.Equal(t, "talent@acme.example", rec.ApplicationContact)
	assert.Equal(t, int32(0), applyHits.Load(), "an in-description email makes the hop unnecessary")
}

func TestContact_ApplyAnchorFollowedOneHop(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<h1 class="topcard__title">Platform Engineer</h1>
<a class="top-card__apply-button" href="/apply/ext?refId=9">Apply</a>
</body></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/view/platform-2", serveHTML(page))
	mux.HandleFunc("/apply/ext", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/careers/landing", http.StatusFound)
	})
	mux.HandleFunc("/careers/landing", serveHTML(`<html><body>apply here</body></html>`))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ex := newTestExtractor(t, srv, model.TierFull)
	rec, err := ex.Job(context.Background(), srv.URL+"/jobs/view/platform-2")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/careers/landing", rec.ApplicationContact,
		"contact is where the apply link actually lands")
}

func TestContact_DeadHostRecoveredFromError(t *testing.T) {
	t.Parallel()

	// A listener that is closed before the test runs gives us an address
	// that refuses connections without touching real DNS.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadURL := "http://" + lis.Addr().String() + "/apply"
	require.NoError(t, lis.Close())

	page := `<html><body>
<h1 class="topcard__title">Platform Engineer</h1>
<a class="apply-button" href="` + deadURL + `">Apply</a>
</body></html>`

	srv := httptest.NewServer(serveHTML(page))
	defer srv.Close()

	ex := newTestExtractor(t, srv, model.TierFull)
	rec, err := ex.Job(context.Background(), srv.URL+"/jobs/view/platform-3")
	require.NoError(t, err)

	assert.Equal(t, "https://127.0.0.1", rec.ApplicationContact,
		"host recovered from the transport error, port and path dropped")
}

func TestContact_NoCandidatesMeansEmpty(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<h1 class="topcard__title">Platform Engineer</h1>
<div class="show-more-less-html__markup"><p>We are hiring.</p></div>
</body></html>`

	srv := httptest.NewServer(serveHTML(page))
	defer srv.Close()

	ex := newTestExtractor(t, srv, model.TierFull)
	rec, err := ex.Job(context.Background(), srv.URL+"/jobs/view/platform-4")
	require.NoError(t, err)

	assert.Empty(t, rec.ApplicationContact)
}
