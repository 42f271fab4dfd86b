package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hls-archive/internal/segment"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, root, name string, data []byte) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileStorage_Open(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "desertbus/source/a.ts", []byte("0123456789"))
	s := FileStorage{Root: root}

	for _, loc := range []string{"/desertbus/source/a.ts", "desertbus/source/a.ts", "file:///desertbus/source/a.ts"} {
		obj, err := s.Open(context.Background(), loc)
		if err != nil {
			t.Fatalf("Open(%q): %v", loc, err)
		}
		if obj.Size() != 10 {
			t.Errorf("Open(%q).Size() = %d", loc, obj.Size())
		}
		buf := make([]byte, 3)
		if _, err := obj.ReadAt(buf, 4); err != nil || string(buf) != "456" {
			t.Errorf("ReadAt = %q, %v", buf, err)
		}
		obj.Close()
	}
}

func TestFileStorage_not_found(t *testing.T) {
	s := FileStorage{Root: t.TempDir()}
	_, err := s.Open(context.Background(), "/missing.ts")
	if !errors.Is(err, segment.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStorage_stays_inside_root(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	writeFile(t, parent, "secret.ts", []byte("secret"))
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	s := FileStorage{Root: root}
	_, err := s.Open(context.Background(), "../secret.ts")
	if !errors.Is(err, segment.ErrNotFound) {
		t.Errorf("traversal should resolve inside root and miss, got %v", err)
	}
}

type stubStorage struct {
	name  string
	calls atomic.Int32
	errs  []error
	obj   Object
}

func (s *stubStorage) Open(_ context.Context, _ string) (Object, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	return s.obj, nil
}

func TestMux_dispatches_on_scheme(t *testing.T) {
	files := &stubStorage{obj: fillerObject{size: 1}}
	s3 := &stubStorage{obj: fillerObject{size: 2}}
	m := Mux{Default: files, Schemes: map[string]Storage{"s3": s3}}
	ctx := context.Background()

	if o, err := m.Open(ctx, "s3://bucket/key.ts"); err != nil || o.Size() != 2 {
		t.Errorf("s3 location: size=%v err=%v", o, err)
	}
	if o, err := m.Open(ctx, "/plain/path.ts"); err != nil || o.Size() != 1 {
		t.Errorf("plain location: %v %v", o, err)
	}
	if o, err := m.Open(ctx, "file:///plain/path.ts"); err != nil || o.Size() != 1 {
		t.Errorf("file location: %v %v", o, err)
	}
	if _, err := m.Open(ctx, "gs://bucket/key.ts"); !errors.Is(err, segment.ErrNotFound) {
		t.Errorf("unknown scheme: expected ErrNotFound, got %v", err)
	}
}

func TestRetryingStorage_recovers(t *testing.T) {
	flaky := &stubStorage{
		errs: []error{errors.New("connection reset"), errors.New("connection reset")},
		obj:  fillerObject{size: PacketSize},
	}
	s := NewRetryingStorage(flaky, 3, time.Millisecond, quietLogger())

	obj, err := s.Open(context.Background(), "s3://b/k.ts")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if obj.Size() != PacketSize {
		t.Errorf("size = %d", obj.Size())
	}
	if got := flaky.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRetryingStorage_gives_up(t *testing.T) {
	down := &stubStorage{errs: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}}
	s := NewRetryingStorage(down, 3, time.Millisecond, quietLogger())

	_, err := s.Open(context.Background(), "s3://b/k.ts")
	if !errors.Is(err, segment.ErrSegmentUnavailable) {
		t.Errorf("expected ErrSegmentUnavailable, got %v", err)
	}
	if got := down.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRetryingStorage_not_found_is_not_retried(t *testing.T) {
	missing := &stubStorage{errs: []error{segment.ErrNotFound, segment.ErrNotFound}}
	s := NewRetryingStorage(missing, 5, time.Millisecond, quietLogger())

	_, err := s.Open(context.Background(), "/gone.ts")
	if !errors.Is(err, segment.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, segment.ErrSegmentUnavailable) {
		t.Errorf("not found must not be reported as unavailable: %v", err)
	}
	if got := missing.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSplitObjectURI(t *testing.T) {
	bucket, key, err := splitObjectURI("s3://archive/desertbus/source/a.ts")
	if err != nil || bucket != "archive" || key != "desertbus/source/a.ts" {
		t.Errorf("got (%q, %q, %v)", bucket, key, err)
	}
	if _, _, err := splitObjectURI("s3://archive/"); err == nil {
		t.Error("expected error for missing key")
	}
}
