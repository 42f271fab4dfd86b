package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	ok := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	bad.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	body := scrape(t, m, nil)
	for _, want := range []string{"archive_requests_total 2", "archive_errors_total 1", "archive_unavailable_total 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestHandler_updates_gauges_before_scrape(t *testing.T) {
	m := New()
	m.IncCacheHit()
	m.AddGap(1500 * time.Millisecond)
	m.ObservePipeline(10 * time.Millisecond)

	body := scrape(t, m, func() { m.SetCachedPlaylists(7) })
	for _, want := range []string{
		"archive_cached_playlists 7",
		"archive_playlist_cache_hits_total 1",
		"archive_gap_seconds_total 1.5",
		"archive_pipeline_duration_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	return rec.Body.String()
}
