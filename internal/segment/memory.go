package segment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/btree"
)

// ErrInvalidSegment is returned when a descriptor cannot be indexed.
var ErrInvalidSegment = errors.New("invalid segment descriptor")

// MemoryIndex is a concurrency-safe in-memory Index ordered by
// (channel, quality, start). It backs development deployments and tests.
type MemoryIndex struct {
	mu          sync.RWMutex
	tree        *btree.BTreeG[Segment]
	locations   map[string]struct{}
	qualities   map[ChannelID]map[Quality]struct{}
	maxDuration time.Duration
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		tree:      btree.NewG[Segment](16, segmentLess),
		locations: make(map[string]struct{}),
		qualities: make(map[ChannelID]map[Quality]struct{}),
	}
}

func segmentLess(a, b Segment) bool {
	if a.Channel != b.Channel {
		return a.Channel < b.Channel
	}
	if a.Quality != b.Quality {
		return a.Quality < b.Quality
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.Location < b.Location
}

// Insert records a new descriptor. Re-inserting a known location is a
// no-op so that repeated notifications do not duplicate state.
func (m *MemoryIndex) Insert(_ context.Context, seg Segment) error {
	if seg.Channel == "" || seg.Quality == "" || seg.Location == "" || seg.Duration <= 0 {
		return ErrInvalidSegment
	}
	seg.Start = seg.Start.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.locations[seg.Location]; exists {
		return nil
	}
	m.locations[seg.Location] = struct{}{}
	m.tree.ReplaceOrInsert(seg)
	if seg.Duration > m.maxDuration {
		m.maxDuration = seg.Duration
	}
	qs, ok := m.qualities[seg.Channel]
	if !ok {
		qs = make(map[Quality]struct{})
		m.qualities[seg.Channel] = qs
	}
	qs[seg.Quality] = struct{}{}
	return nil
}

// Query implements Index.Query.
func (m *MemoryIndex) Query(ctx context.Context, channel ChannelID, quality Quality, start, end time.Time) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Anything starting earlier than start-maxDuration cannot reach start.
	pivot := Segment{Channel: channel, Quality: quality, Start: start.Add(-m.maxDuration)}
	var out []Segment
	m.tree.AscendGreaterOrEqual(pivot, func(seg Segment) bool {
		if seg.Channel != channel || seg.Quality != quality || !seg.Start.Before(end) {
			return false
		}
		if seg.Overlaps(start, end) {
			out = append(out, seg)
		}
		return true
	})
	return out, nil
}

// Qualities implements Index.Qualities.
func (m *MemoryIndex) Qualities(ctx context.Context, channel ChannelID) ([]Quality, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs := m.qualities[channel]
	out := make([]Quality, 0, len(qs))
	for q := range qs {
		out = append(out, q)
	}
	return out, nil
}

// Len returns the number of indexed segments.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}
