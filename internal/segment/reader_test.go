package segment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type stubIndex struct {
	segments  []Segment
	qualities []Quality
	err       error
	delay     time.Duration
}

func (s *stubIndex) Query(ctx context.Context, _ ChannelID, _ Quality, _, _ time.Time) ([]Segment, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.segments, s.err
}

func (s *stubIndex) Qualities(context.Context, ChannelID) ([]Quality, error) {
	return s.qualities, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReader_Fetch_orders_and_passes_duplicates(t *testing.T) {
	idx := &stubIndex{segments: []Segment{
		seg(4, 2, "/4.ts", 3),
		seg(0, 2, "/0-b.ts", 2),
		seg(0, 2, "/0-a.ts", 1),
		seg(2, 2, "/2.ts", 4),
	}}
	r := NewReader(idx, time.Second, quietLogger())

	got, err := r.Fetch(context.Background(), "desertbus", "source", t0, t0.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("duplicates must be passed through, got %d", len(got))
	}
	// Stable: equal starts keep their store order.
	want := []string{"/0-b.ts", "/0-a.ts", "/2.ts", "/4.ts"}
	for i, w := range want {
		if got[i].Location != w {
			t.Errorf("position %d: got %s want %s", i, got[i].Location, w)
		}
	}
}

func TestReader_Fetch_drops_malformed(t *testing.T) {
	bad := seg(2, 2, "/bad.ts", 2)
	bad.Duration = 0
	foreign := seg(4, 2, "/foreign.ts", 3)
	foreign.Channel = "other"
	idx := &stubIndex{segments: []Segment{seg(0, 2, "/0.ts", 1), bad, foreign}}
	r := NewReader(idx, time.Second, quietLogger())

	got, err := r.Fetch(context.Background(), "desertbus", "source", t0, t0.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 || got[0].Location != "/0.ts" {
		t.Errorf("expected only the valid segment, got %v", got)
	}
}

func TestReader_Fetch_index_error(t *testing.T) {
	idx := &stubIndex{err: errors.New("connection refused")}
	r := NewReader(idx, time.Second, quietLogger())

	got, err := r.Fetch(context.Background(), "desertbus", "source", t0, t0.Add(time.Second))
	if !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable, got %v", err)
	}
	if got != nil {
		t.Errorf("failed query must not return segments, got %v", got)
	}
}

func TestReader_Fetch_timeout(t *testing.T) {
	idx := &stubIndex{segments: []Segment{seg(0, 2, "/0.ts", 1)}, delay: time.Second}
	r := NewReader(idx, 20*time.Millisecond, quietLogger())

	start := time.Now()
	_, err := r.Fetch(context.Background(), "desertbus", "source", t0, t0.Add(time.Second))
	if !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable on timeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("timeout not honoured: took %v", time.Since(start))
	}
}

func TestReader_Qualities_sorted(t *testing.T) {
	idx := &stubIndex{qualities: []Quality{"source", "480p", "720p"}}
	r := NewReader(idx, time.Second, quietLogger())

	qs, err := r.Qualities(context.Background(), "desertbus")
	if err != nil {
		t.Fatalf("Qualities: %v", err)
	}
	if len(qs) != 3 || qs[0] != "480p" || qs[2] != "source" {
		t.Errorf("expected sorted qualities, got %v", qs)
	}
}
