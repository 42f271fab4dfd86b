package archive

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hls-archive/internal/platform/metrics"
	"hls-archive/internal/segment"
	"hls-archive/internal/timeline"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	mediaContentType    = "video/mp2t"
	maxIngestBody       = 1 << 16
)

// Handler exposes archive HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// RegisterRoutes mounts the archive endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/playlist/{channel}", func(r chi.Router) {
		r.Get("/master.m3u8", h.GetMaster)
		r.Route("/{quality}", func(r chi.Router) {
			r.Get("/index.m3u8", h.GetPlaylist)
			r.Get("/index.json", h.GetPlaylistJSON)
		})
	})
	r.Get("/media/{ref}", h.GetMedia)
	r.Post("/segments/{channel}/{quality}", h.IngestSegment)
}

// GetPlaylist handles GET /playlist/{channel}/{quality}/index.m3u8.
// Query: start (required), end (default now), gap_policy (fill|split).
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manifest(w, r)
	if !ok {
		return
	}
	etag := `"` + strconv.FormatUint(xxhash.Sum64(m.Manifest), 16) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(m.Manifest)
}

type entryJSON struct {
	Start         time.Time `json:"start"`
	Duration      float64   `json:"duration"`
	Discontinuity bool      `json:"discontinuity"`
	MediaRef      string    `json:"media_ref"`
	IsFiller      bool      `json:"is_filler"`
}

type spanJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type manifestJSON struct {
	Channel        segment.ChannelID  `json:"channel"`
	Quality        segment.Quality    `json:"quality"`
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"`
	GapPolicy      timeline.GapPolicy `json:"gap_policy"`
	EmptyRange     bool               `json:"empty_range"`
	TargetDuration int                `json:"target_duration"`
	Entries        []entryJSON        `json:"entries"`
	Ranges         []spanJSON         `json:"ranges"`
	Gaps           []spanJSON         `json:"gaps"`
}

// GetPlaylistJSON handles GET /playlist/{channel}/{quality}/index.json, the
// same playlist as GetPlaylist as structured entries.
func (h *Handler) GetPlaylistJSON(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manifest(w, r)
	if !ok {
		return
	}
	out := manifestJSON{
		Channel:        m.Key.Channel,
		Quality:        m.Key.Quality,
		Start:          m.Key.Start,
		End:            m.Key.End,
		GapPolicy:      m.Key.Policy,
		EmptyRange:     m.EmptyRange(),
		TargetDuration: timeline.TargetDuration(m.Playlist),
		Entries:        []entryJSON{},
		Ranges:         []spanJSON{},
		Gaps:           []spanJSON{},
	}
	for _, e := range m.Playlist.Entries() {
		out.Entries = append(out.Entries, entryJSON{
			Start:         e.Start,
			Duration:      e.Duration.Seconds(),
			Discontinuity: e.Discontinuity,
			MediaRef:      timeline.MediaURI(h.svc.cfg.MediaBase, e.Ref),
			IsFiller:      e.IsFiller,
		})
	}
	for _, rg := range m.Playlist.Ranges {
		out.Ranges = append(out.Ranges, spanJSON{Start: rg.Start(), End: rg.End()})
	}
	for _, g := range m.Timeline.Gaps() {
		out.Gaps = append(out.Gaps, spanJSON{Start: g.Start, End: g.End})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.log.Debug("write manifest json", slog.String("error", err.Error()))
	}
}

// manifest parses the request and runs the pipeline. On failure it writes
// the error response and returns false.
func (h *Handler) manifest(w http.ResponseWriter, r *http.Request) (*Manifest, bool) {
	req, err := h.parseManifestRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	m, err := h.svc.Manifest(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if m.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if m.EmptyRange() {
		w.Header().Set("X-Empty-Range", "true")
	}
	return m, true
}

func (h *Handler) parseManifestRequest(r *http.Request) (ManifestRequest, error) {
	req := ManifestRequest{
		Channel: segment.ChannelID(chi.URLParam(r, "channel")),
		Quality: segment.Quality(chi.URLParam(r, "quality")),
	}
	if req.Channel == "" || req.Quality == "" {
		return req, errBadRequest("channel and quality are required")
	}
	q := r.URL.Query()
	start, err := parseTime(q.Get("start"))
	if err != nil {
		return req, errBadRequest("start: " + err.Error())
	}
	req.Start = start
	if s := q.Get("end"); s != "" {
		if req.End, err = parseTime(s); err != nil {
			return req, errBadRequest("end: " + err.Error())
		}
	}
	if s := q.Get("gap_policy"); s != "" {
		if req.Policy, err = timeline.ParseGapPolicy(s); err != nil {
			return req, errBadRequest(err.Error())
		}
	}
	return req, nil
}

// parseTime accepts RFC3339 with optional fractional seconds, or unix
// seconds with an optional fraction.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	if whole, frac, _ := strings.Cut(s, "."); isDigits(whole) && (frac == "" || isDigits(frac)) {
		sec, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		t := time.Unix(sec, 0).UTC()
		if frac != "" {
			f, _ := strconv.ParseFloat("0."+frac, 64)
			t = t.Add(segment.SecondsToDuration(f))
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// GetMaster handles GET /playlist/{channel}/master.m3u8. The query string is
// forwarded to every variant.
func (h *Handler) GetMaster(w http.ResponseWriter, r *http.Request) {
	channel := segment.ChannelID(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, err := h.svc.Master(r.Context(), channel, r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// GetMedia handles GET /media/{ref}. Range requests are honoured.
func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "ref")
	if !strings.HasSuffix(token, timeline.MediaSuffix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	m, err := h.svc.OpenMedia(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer m.Close()

	w.Header().Set("Content-Type", mediaContentType)
	// A ref names immutable bytes.
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeContent(w, r, "", time.Time{}, m)
}

type ingestRequest struct {
	Start time.Time `json:"start"`
	// Duration is in seconds, as written by capture workers.
	Duration float64             `json:"duration"`
	Location string              `json:"location"`
	Sequence int64               `json:"sequence"`
	Type     segment.SegmentType `json:"type"`
	Encoding string              `json:"encoding"`
}

// IngestSegment handles POST /segments/{channel}/{quality}.
// Body: { "start": "2024-03-01T12:00:00Z", "duration": 2.0, "location": "/c/q/0.ts", "sequence": 1 }.
func (h *Handler) IngestSegment(w http.ResponseWriter, r *http.Request) {
	channel := segment.ChannelID(chi.URLParam(r, "channel"))
	quality := segment.Quality(chi.URLParam(r, "quality"))
	if channel == "" || quality == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var body ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&body); err != nil {
		h.log.Debug("invalid segment body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch body.Type {
	case "":
		body.Type = segment.TypeFull
	case segment.TypeFull, segment.TypePartial, segment.TypeSuspect:
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	seg := segment.Segment{
		Channel:  channel,
		Quality:  quality,
		Start:    body.Start.UTC(),
		Duration: segment.SecondsToDuration(body.Duration),
		Location: body.Location,
		Sequence: body.Sequence,
		Type:     body.Type,
		Encoding: body.Encoding,
	}
	if seg.Start.IsZero() {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.Ingest(r.Context(), seg); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Debug("segment ingested",
		slog.String("channel", string(channel)),
		slog.String("quality", string(quality)),
		slog.String("location", seg.Location),
		slog.Int64("sequence", seg.Sequence))
	w.WriteHeader(http.StatusCreated)
	if h.metrics != nil {
		h.metrics.IncSegmentsIngested()
	}
}

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequestError(msg) }

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var bad badRequestError
	switch {
	case errors.As(err, &bad),
		errors.Is(err, segment.ErrInvalidRange),
		errors.Is(err, segment.ErrInvalidSegment),
		errors.Is(err, timeline.ErrBadMediaRef):
		return http.StatusBadRequest
	case errors.Is(err, segment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, segment.ErrIndexUnavailable),
		errors.Is(err, segment.ErrSegmentUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrIngestDisabled):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.Int("status", code),
		slog.String("error", err.Error()),
	}
	switch {
	case code >= 500:
		h.log.Error("request failed", attrs...)
	case code == http.StatusNotFound:
		h.log.Debug("request failed", attrs...)
	default:
		h.log.Info("request rejected", attrs...)
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	msg := http.StatusText(code)
	if code < 500 {
		msg = err.Error()
	}
	http.Error(w, msg, code)
}
