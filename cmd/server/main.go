package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-archive/internal/archive"
	"hls-archive/internal/cache"
	"hls-archive/internal/platform/config"
	"hls-archive/internal/platform/logger"
	"hls-archive/internal/platform/metrics"
	"hls-archive/internal/platform/telemetry"
	"hls-archive/internal/segment"
	"hls-archive/internal/timeline"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	log := logger.New(logLevel, logFormat)

	if err := run(log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(log *slog.Logger) error {
	ctx := context.Background()
	port := config.GetEnv("PORT", "8080")

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName: "hls-archive",
		SampleRate:  config.GetEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	})
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}
	defer shutdownTracing(context.Background())

	// Index backend.
	var (
		index  segment.Index
		writer segment.Writer
	)
	indexBackend := config.GetEnv("INDEX_BACKEND", "memory")
	switch indexBackend {
	case "sqlite":
		idx, err := segment.OpenSQLite(ctx, config.GetEnv("SQLITE_PATH", "segments.db"), segment.DefaultSQLiteConfig())
		if err != nil {
			return err
		}
		defer idx.Close()
		index, writer = idx, idx
	case "memory":
		idx := segment.NewMemoryIndex()
		index, writer = idx, idx
	default:
		return errors.New("INDEX_BACKEND must be memory or sqlite")
	}
	reader := segment.NewReader(index, config.GetEnvDuration("INDEX_QUERY_TIMEOUT", segment.DefaultQueryTimeout), log)

	// Segment storage.
	mux := archive.Mux{
		Default: archive.FileStorage{Root: config.GetEnv("STORAGE_ROOT", "./segments")},
		Schemes: map[string]archive.Storage{},
	}
	if endpoint := config.GetEnv("MINIO_ENDPOINT", ""); endpoint != "" {
		ms, err := archive.NewMinioStorage(archive.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: config.GetEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: config.GetEnv("MINIO_SECRET_KEY", ""),
			Secure:    config.GetEnvBool("MINIO_SECURE", false),
		})
		if err != nil {
			return err
		}
		mux.Schemes["s3"] = ms
	}
	store := archive.NewRetryingStorage(mux, config.GetEnvInt("FETCH_ATTEMPTS", archive.DefaultFetchAttempts), 100*time.Millisecond, log)

	// Playlist cache.
	def := cache.DefaultTTLPolicy()
	ttl := cache.TTLPolicy{
		Live:      config.GetEnvDuration("CACHE_LIVE_TTL", def.Live),
		Recent:    config.GetEnvDuration("CACHE_RECENT_TTL", def.Recent),
		Archive:   config.GetEnvDuration("CACHE_ARCHIVE_TTL", def.Archive),
		Watermark: config.GetEnvDuration("CACHE_WATERMARK", def.Watermark),
	}
	var playlists cache.Cache
	cacheBackend := config.GetEnv("CACHE_BACKEND", "memory")
	switch cacheBackend {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
			Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB:       config.GetEnvInt("REDIS_DB", 0),
		}, log)
		if err != nil {
			return err
		}
		defer rc.Close()
		playlists = rc
	case "memory":
		mc := cache.NewMemoryCache(time.Minute, cache.WithMaxEntries(config.GetEnvInt("CACHE_MAX_ENTRIES", cache.DefaultMaxEntries)))
		defer mc.Stop()
		playlists = mc
	default:
		return errors.New("CACHE_BACKEND must be memory or redis")
	}

	policy, err := timeline.ParseGapPolicy(config.GetEnv("DEFAULT_GAP_POLICY", string(timeline.GapSplit)))
	if err != nil {
		return err
	}
	cfg := archive.Config{
		DefaultPolicy:        policy,
		MinGap:               config.GetEnvDuration("MIN_GAP", 0),
		TTL:                  ttl,
		Retention:            config.GetEnvDuration("RETENTION", 0),
		MediaBase:            config.GetEnv("MEDIA_BASE_URL", "/media/"),
		FillerBitrate:        int64(config.GetEnvInt("FILLER_BITRATE", archive.DefaultFillerBitrate)),
		FetchTimeout:         config.GetEnvDuration("FETCH_TIMEOUT", archive.DefaultFetchTimeout),
		MaxConcurrentFetches: int64(config.GetEnvInt("MAX_CONCURRENT_FETCHES", archive.DefaultMaxConcurrentFetches)),
		NominalBandwidth:     uint32(config.GetEnvInt("NOMINAL_BANDWIDTH", archive.DefaultNominalBandwidth)),
	}

	met := metrics.New()
	svc := archive.NewService(reader, store, playlists, cfg, log, met)
	if config.GetEnvBool("INGEST_ENABLED", true) {
		svc.EnableIngest(writer)
	}
	h := archive.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			if n := playlists.Len(); n >= 0 {
				met.SetCachedPlaylists(n)
			}
		}).ServeHTTP(w, r)
	})
	r.Group(func(r chi.Router) {
		if limit := config.GetEnvInt("RATE_LIMIT_PER_MINUTE", 0); limit > 0 {
			r.Use(httprate.LimitByIP(limit, time.Minute))
		}
		h.RegisterRoutes(r)
	})

	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "hls-archive"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info("server starting",
		"port", port,
		"index_backend", indexBackend,
		"cache_backend", cacheBackend,
		"default_gap_policy", string(policy),
		"log_level", config.GetEnv("LOG_LEVEL", "info"),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return err
	}

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
