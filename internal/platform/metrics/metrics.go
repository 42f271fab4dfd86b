package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the archive server.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	unavailableTotal      prometheus.Counter
	cacheHitsTotal        prometheus.Counter
	cacheMissesTotal      prometheus.Counter
	indexQueriesTotal     prometheus.Counter
	indexFailuresTotal    prometheus.Counter
	segmentFailuresTotal  prometheus.Counter
	segmentsIngestedTotal prometheus.Counter
	fillerBytesTotal      prometheus.Counter
	gapSecondsTotal       prometheus.Counter
	pipelineDuration      prometheus.Histogram
	cachedPlaylists       prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		unavailableTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_unavailable_total",
			Help: "Responses with 503 because the index or a segment fetch failed",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_playlist_cache_hits_total",
			Help: "Manifest requests answered from the playlist cache",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_playlist_cache_misses_total",
			Help: "Manifest requests that ran the playlist pipeline",
		}),
		indexQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_index_queries_total",
			Help: "Segment index range queries issued",
		}),
		indexFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_index_failures_total",
			Help: "Segment index queries that failed or timed out",
		}),
		segmentFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_segment_fetch_failures_total",
			Help: "Media requests whose storage fetch failed after retries",
		}),
		segmentsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_segments_ingested_total",
			Help: "Segment descriptors accepted by the ingest endpoint",
		}),
		fillerBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_filler_bytes_total",
			Help: "Bytes of synthesized gap filler served",
		}),
		gapSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_gap_seconds_total",
			Help: "Seconds of uncovered time found while building playlists",
		}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_pipeline_duration_seconds",
			Help:    "Time to query, resolve, assemble and render one playlist",
			Buckets: prometheus.DefBuckets,
		}),
		cachedPlaylists: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archive_cached_playlists",
			Help: "Number of playlists currently held in the local cache",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.unavailableTotal,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.indexQueriesTotal,
		m.indexFailuresTotal,
		m.segmentFailuresTotal,
		m.segmentsIngestedTotal,
		m.fillerBytesTotal,
		m.gapSecondsTotal,
		m.pipelineDuration,
		m.cachedPlaylists,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncUnavailable counts a 503 response.
func (m *Metrics) IncUnavailable() {
	m.unavailableTotal.Inc()
}

// IncCacheHit counts a manifest served from cache.
func (m *Metrics) IncCacheHit() {
	m.cacheHitsTotal.Inc()
}

// IncCacheMiss counts a manifest that ran the pipeline.
func (m *Metrics) IncCacheMiss() {
	m.cacheMissesTotal.Inc()
}

// IncIndexQueries counts an index query.
func (m *Metrics) IncIndexQueries() {
	m.indexQueriesTotal.Inc()
}

// IncIndexFailures counts a failed index query.
func (m *Metrics) IncIndexFailures() {
	m.indexFailuresTotal.Inc()
}

// IncSegmentFailures counts a failed storage fetch.
func (m *Metrics) IncSegmentFailures() {
	m.segmentFailuresTotal.Inc()
}

// IncSegmentsIngested counts an ingested descriptor.
func (m *Metrics) IncSegmentsIngested() {
	m.segmentsIngestedTotal.Inc()
}

// AddFillerBytes adds to the filler bytes counter.
func (m *Metrics) AddFillerBytes(n int64) {
	m.fillerBytesTotal.Add(float64(n))
}

// AddGap adds uncovered time to the gap counter.
func (m *Metrics) AddGap(d time.Duration) {
	m.gapSecondsTotal.Add(d.Seconds())
}

// ObservePipeline records one pipeline run.
func (m *Metrics) ObservePipeline(d time.Duration) {
	m.pipelineDuration.Observe(d.Seconds())
}

// SetCachedPlaylists sets the cached playlists gauge.
func (m *Metrics) SetCachedPlaylists(n int) {
	m.cachedPlaylists.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
