package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"hls-archive/internal/cache"
	"hls-archive/internal/platform/metrics"
	"hls-archive/internal/segment"
	"hls-archive/internal/timeline"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// ErrIngestDisabled is returned by Ingest when no index writer is attached.
var ErrIngestDisabled = errors.New("segment ingest disabled")

const (
	// DefaultFetchTimeout bounds one storage fetch.
	DefaultFetchTimeout = 10 * time.Second
	// DefaultMaxConcurrentFetches bounds parallel storage fetches.
	DefaultMaxConcurrentFetches = 64
	// DefaultNominalBandwidth is advertised in master playlists, in bits per second.
	DefaultNominalBandwidth = 6_000_000
)

// Config holds pipeline settings.
type Config struct {
	DefaultPolicy timeline.GapPolicy
	// MinGap is passed to the assembler: shorter gaps are bridged.
	MinGap time.Duration
	TTL    cache.TTLPolicy
	// Retention rejects ranges ending before now-Retention. Zero disables it.
	Retention            time.Duration
	MediaBase            string
	FillerBitrate        int64
	FetchTimeout         time.Duration
	MaxConcurrentFetches int64
	NominalBandwidth     uint32
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DefaultPolicy:        timeline.GapSplit,
		TTL:                  cache.DefaultTTLPolicy(),
		MediaBase:            "/media/",
		FillerBitrate:        DefaultFillerBitrate,
		FetchTimeout:         DefaultFetchTimeout,
		MaxConcurrentFetches: DefaultMaxConcurrentFetches,
		NominalBandwidth:     DefaultNominalBandwidth,
	}
}

// Service runs the playlist pipeline (query, resolve, assemble, render)
// behind the cache, and opens media for playlist entries.
type Service struct {
	reader  *segment.Reader
	writer  segment.Writer
	storage Storage
	cache   cache.Cache
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	group   singleflight.Group
	fetches *semaphore.Weighted
}

// NewService returns a Service. Metrics may be nil.
func NewService(reader *segment.Reader, storage Storage, c cache.Cache, cfg Config, log *slog.Logger, m *metrics.Metrics) *Service {
	def := DefaultConfig()
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = def.DefaultPolicy
	}
	if cfg.MediaBase == "" {
		cfg.MediaBase = def.MediaBase
	}
	if cfg.FillerBitrate <= 0 {
		cfg.FillerBitrate = def.FillerBitrate
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = def.MaxConcurrentFetches
	}
	if cfg.NominalBandwidth == 0 {
		cfg.NominalBandwidth = def.NominalBandwidth
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		reader:  reader,
		storage: storage,
		cache:   c,
		cfg:     cfg,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer("hls-archive/archive"),
		fetches: semaphore.NewWeighted(cfg.MaxConcurrentFetches),
	}
}

// EnableIngest attaches the index writer used by Ingest.
func (s *Service) EnableIngest(w segment.Writer) {
	s.writer = w
}

// DefaultPolicy returns the gap policy used when a request names none.
func (s *Service) DefaultPolicy() timeline.GapPolicy {
	return s.cfg.DefaultPolicy
}

// ManifestRequest selects one playlist.
type ManifestRequest struct {
	Channel segment.ChannelID
	Quality segment.Quality
	Start   time.Time
	// End is the exclusive end of the range. Zero means the live edge.
	End     time.Time
	Policy  timeline.GapPolicy
}

// Manifest is a pipeline result.
type Manifest struct {
	*cache.Entry
	Key cache.Key
	// Cached is true when the entry came from the cache.
	Cached bool
}

// EmptyRange reports whether the playlist has nothing to play. A range with
// no media under gap_policy=fill is not empty: its filler is playable.
func (m *Manifest) EmptyRange() bool {
	return m.Playlist.Empty()
}

// Manifest returns the playlist for req, from the cache when possible.
// Concurrent misses for the same key run the pipeline once.
func (s *Service) Manifest(ctx context.Context, req ManifestRequest) (*Manifest, error) {
	key, live, err := s.key(req)
	if err != nil {
		return nil, err
	}
	if e, ok := s.cache.Get(ctx, key); ok {
		if s.metrics != nil {
			s.metrics.IncCacheHit()
		}
		return &Manifest{Entry: e, Key: key, Cached: true}, nil
	}
	if s.metrics != nil {
		s.metrics.IncCacheMiss()
	}

	// Detached from the caller since the flight is shared. The index
	// timeout still bounds it.
	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		return s.build(context.WithoutCancel(ctx), key, live)
	})
	if err != nil {
		return nil, err
	}
	return &Manifest{Entry: v.(*cache.Entry), Key: key}, nil
}

// key normalizes req. An open range ends at the live edge and live is true.
func (s *Service) key(req ManifestRequest) (key cache.Key, live bool, err error) {
	start, end := req.Start.UTC(), req.End.UTC()
	if req.End.IsZero() {
		end, live = s.liveEdge(start), true
	}
	if !end.After(start) {
		return cache.Key{}, false, fmt.Errorf("%w: end %s is not after start %s", segment.ErrInvalidRange,
			end.Format(time.RFC3339Nano), start.Format(time.RFC3339Nano))
	}
	if s.cfg.Retention > 0 {
		if oldest := s.cfg.Now().Add(-s.cfg.Retention); end.Before(oldest) {
			return cache.Key{}, false, fmt.Errorf("%w: range ends before retained history (%s)", segment.ErrInvalidRange,
				oldest.UTC().Format(time.RFC3339))
		}
	}
	policy := req.Policy
	if policy == "" {
		policy = s.cfg.DefaultPolicy
	}
	key = cache.Key{Channel: req.Channel, Quality: req.Quality, Start: start, End: end, Policy: policy}
	return key, live, nil
}

// liveEdge is now truncated to the live TTL, so polls of an open range
// within one step share a cache key. Falls back to now when truncation
// would not leave the range after start.
func (s *Service) liveEdge(start time.Time) time.Time {
	step := s.cfg.TTL.Live
	if step <= 0 {
		step = time.Second
	}
	now := s.cfg.Now().UTC()
	if edge := now.Truncate(step); edge.After(start) {
		return edge
	}
	return now
}

func (s *Service) build(ctx context.Context, key cache.Key, live bool) (*cache.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "playlist.build", trace.WithAttributes(
		attribute.String("channel", string(key.Channel)),
		attribute.String("quality", string(key.Quality)),
		attribute.String("gap_policy", string(key.Policy)),
	))
	defer span.End()
	began := time.Now()

	if s.metrics != nil {
		s.metrics.IncIndexQueries()
	}
	segs, err := s.reader.Fetch(ctx, key.Channel, key.Quality, key.Start, key.End)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncIndexFailures()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tl := timeline.Resolve(segs, key.Start, key.End)
	pl := timeline.Assembler{Policy: key.Policy, MinGap: s.cfg.MinGap}.Assemble(tl)
	manifest, err := timeline.RenderMedia(pl, s.cfg.MediaBase)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("render playlist: %w", err)
	}
	entry := &cache.Entry{Timeline: tl, Playlist: pl, Manifest: manifest}

	ttl := s.cfg.TTL.For(key.End, s.cfg.Now())
	if live {
		ttl = s.cfg.TTL.Live
	}
	s.cache.Set(ctx, key, entry, ttl)

	var gap time.Duration
	for _, g := range tl.Gaps() {
		gap += g.Duration()
	}
	span.SetAttributes(
		attribute.Int("segments", len(segs)),
		attribute.Int("entries", len(pl.Entries())),
		attribute.Float64("gap_seconds", gap.Seconds()),
	)
	if s.metrics != nil {
		s.metrics.AddGap(gap)
		s.metrics.ObservePipeline(time.Since(began))
	}
	s.log.Debug("playlist built",
		slog.String("channel", string(key.Channel)),
		slog.String("quality", string(key.Quality)),
		slog.Int("segments", len(segs)),
		slog.Int("ranges", len(pl.Ranges)),
		slog.Int("gaps", len(tl.Gaps())),
		slog.Duration("ttl", ttl))
	return entry, nil
}

// Master renders the master playlist for channel. query is appended to
// every variant URI so a range selected on the master carries through.
func (s *Service) Master(ctx context.Context, channel segment.ChannelID, query url.Values) ([]byte, error) {
	qs, err := s.reader.Qualities(ctx, channel)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncIndexFailures()
		}
		return nil, err
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: channel %s has no segments", segment.ErrNotFound, channel)
	}
	suffix := ""
	if len(query) > 0 {
		suffix = "?" + query.Encode()
	}
	return timeline.RenderMaster(qs, s.cfg.NominalBandwidth, func(q segment.Quality) string {
		return url.PathEscape(string(q)) + "/index.m3u8" + suffix
	}), nil
}

// Ingest records a segment descriptor through the attached writer.
func (s *Service) Ingest(ctx context.Context, seg segment.Segment) error {
	if s.writer == nil {
		return ErrIngestDisabled
	}
	return s.writer.Insert(ctx, seg)
}

// Media is an opened media unit ready to be served. Close must be called.
type Media struct {
	*io.SectionReader
	Filler    bool
	closeOnce sync.Once
	release   func()
}

// Close releases the storage object and the fetch slot.
func (m *Media) Close() error {
	m.closeOnce.Do(m.release)
	return nil
}

// OpenMedia resolves a media ref token. Waiting for a fetch slot and
// opening the object are bounded by FetchTimeout; reads afterwards follow
// ctx only, so a slow client is not cut off mid-body. The returned reader
// covers only the bytes for the ref's time trims. Filler is synthesized.
func (s *Service) OpenMedia(ctx context.Context, token string) (*Media, error) {
	ref, err := timeline.ParseMediaRef(token)
	if err != nil {
		return nil, err
	}
	if ref.Filler {
		size := fillerSize(s.cfg.FillerBitrate, ref.Duration())
		if s.metrics != nil {
			s.metrics.AddFillerBytes(size)
		}
		return &Media{
			SectionReader: io.NewSectionReader(fillerObject{size: size}, 0, size),
			Filler:        true,
			release:       func() {},
		}, nil
	}

	// Storage objects keep the context they were opened with, so the open
	// deadline is a timer that is stopped once the object is open.
	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(s.cfg.FetchTimeout, func() { cancel(context.DeadlineExceeded) })
	ctx, span := s.tracer.Start(ctx, "media.open", trace.WithAttributes(attribute.String("location", ref.Location)))
	defer span.End()

	if err := s.fetches.Acquire(ctx, 1); err != nil {
		timer.Stop()
		cancel(nil)
		span.RecordError(err)
		return nil, fmt.Errorf("%w: waiting for fetch slot: %v", segment.ErrSegmentUnavailable, context.Cause(ctx))
	}
	obj, err := s.storage.Open(ctx, ref.Location)
	if err == nil && !timer.Stop() {
		_ = obj.Close()
		err = fmt.Errorf("%w: %s: open timed out", segment.ErrSegmentUnavailable, ref.Location)
	}
	if err != nil {
		timer.Stop()
		s.fetches.Release(1)
		cancel(nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, segment.ErrNotFound) && s.metrics != nil {
			s.metrics.IncSegmentFailures()
		}
		if !errors.Is(err, segment.ErrNotFound) && !errors.Is(err, segment.ErrSegmentUnavailable) {
			err = fmt.Errorf("%w: %s: %v", segment.ErrSegmentUnavailable, ref.Location, err)
		}
		return nil, err
	}
	off, n := byteRange(obj.Size(), ref)
	span.SetAttributes(attribute.Int64("offset", off), attribute.Int64("length", n))
	return &Media{
		SectionReader: io.NewSectionReader(obj, off, n),
		release: func() {
			_ = obj.Close()
			s.fetches.Release(1)
			cancel(nil)
		},
	}, nil
}
