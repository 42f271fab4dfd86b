package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"hls-archive/internal/segment"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Object is an opened stored segment.
type Object interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Storage opens segment locations. Open must return segment.ErrNotFound
// (wrapped) when the location does not exist.
type Storage interface {
	Open(ctx context.Context, location string) (Object, error)
}

// FileStorage serves locations from a local directory tree. Locations are
// either plain paths or file:// URIs and are resolved relative to Root.
type FileStorage struct {
	Root string
}

type fileObject struct {
	*os.File
	size int64
}

func (o fileObject) Size() int64 { return o.size }

// Open implements Storage.
func (s FileStorage) Open(ctx context.Context, location string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimPrefix(location, "file://")
	// Clean against "/" first so ".." can never climb above Root.
	p := filepath.Join(s.Root, filepath.FromSlash(path.Clean("/"+name)))
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", segment.ErrNotFound, location)
		}
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if fi.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", segment.ErrNotFound, location)
	}
	return fileObject{File: f, size: fi.Size()}, nil
}

// MinioConfig holds S3-compatible object store settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}

// MinioStorage serves s3://bucket/key locations from an S3-compatible
// object store.
type MinioStorage struct {
	client *minio.Client
}

// NewMinioStorage creates a client for cfg. No request is made until the
// first Open.
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStorage{client: client}, nil
}

type minioObject struct {
	*minio.Object
	size int64
}

func (o minioObject) Size() int64 { return o.size }

// Open implements Storage.
func (s *MinioStorage) Open(ctx context.Context, location string) (Object, error) {
	bucket, key, err := splitObjectURI(location)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioErr(location, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, minioErr(location, err)
	}
	return minioObject{Object: obj, size: info.Size}, nil
}

func minioErr(location string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", segment.ErrNotFound, location)
	}
	return fmt.Errorf("get %s: %w", location, err)
}

func splitObjectURI(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse location %q: %w", location, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("%w: bad object uri %q", segment.ErrNotFound, location)
	}
	return u.Host, key, nil
}

// Mux dispatches on the location's URI scheme. Locations without a
// scheme go to Default.
type Mux struct {
	Default Storage
	Schemes map[string]Storage
}

// Open implements Storage.
func (m Mux) Open(ctx context.Context, location string) (Object, error) {
	if i := strings.Index(location, "://"); i > 0 {
		if s, ok := m.Schemes[location[:i]]; ok {
			return s.Open(ctx, location)
		}
		if location[:i] != "file" {
			return nil, fmt.Errorf("%w: no storage for scheme %q", segment.ErrNotFound, location[:i])
		}
	}
	if m.Default == nil {
		return nil, fmt.Errorf("%w: no default storage", segment.ErrNotFound)
	}
	return m.Default.Open(ctx, location)
}

// RetryingStorage retries transient Open failures with exponential
// backoff. Missing objects are not retried. Any other failure that
// survives the retries is reported as segment.ErrSegmentUnavailable.
type RetryingStorage struct {
	next     Storage
	attempts uint
	initial  time.Duration
	log      *slog.Logger
}

// DefaultFetchAttempts is used when NewRetryingStorage is given zero attempts.
const DefaultFetchAttempts = 3

// NewRetryingStorage wraps next.
func NewRetryingStorage(next Storage, attempts int, initial time.Duration, log *slog.Logger) *RetryingStorage {
	if attempts <= 0 {
		attempts = DefaultFetchAttempts
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	return &RetryingStorage{next: next, attempts: uint(attempts), initial: initial, log: log}
}

// Open implements Storage.
func (s *RetryingStorage) Open(ctx context.Context, location string) (Object, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.initial
	eb.MaxInterval = 10 * s.initial

	try := 0
	obj, err := backoff.Retry(ctx, func() (Object, error) {
		try++
		o, err := s.next.Open(ctx, location)
		if err == nil {
			return o, nil
		}
		if errors.Is(err, segment.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		s.log.Debug("segment open failed",
			slog.String("location", location),
			slog.Int("attempt", try),
			slog.String("error", err.Error()))
		return nil, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(s.attempts))
	if err != nil {
		if errors.Is(err, segment.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", segment.ErrSegmentUnavailable, location, err)
	}
	return obj, nil
}
