// Package cache memoizes assembled playlists for a short, expiry-checked
// time. Entries are never invalidated by notification; freshness near the
// live edge comes entirely from short TTLs.
package cache

import (
	"context"
	"fmt"
	"time"

	"hls-archive/internal/segment"
	"hls-archive/internal/timeline"
)

// Key identifies one assembled playlist.
type Key struct {
	Channel segment.ChannelID
	Quality segment.Quality
	Start   time.Time
	End     time.Time
	Policy  timeline.GapPolicy
}

// String returns a stable textual form of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", k.Channel, k.Quality, k.Start.UnixNano(), k.End.UnixNano(), k.Policy)
}

// Entry is a cached pipeline result.
type Entry struct {
	Timeline timeline.Timeline `json:"timeline"`
	Playlist timeline.Playlist `json:"playlist"`
	// Manifest is the rendered media playlist.
	Manifest []byte `json:"manifest"`
}

// Cache stores entries until their TTL runs out.
type Cache interface {
	// Get returns the entry for key if present and not expired.
	Get(ctx context.Context, key Key) (*Entry, bool)
	// Set stores e under key for ttl.
	Set(ctx context.Context, key Key, e *Entry, ttl time.Duration)
	// Len returns the number of live entries, if known.
	Len() int
}

// Stats holds cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
}

// TTLPolicy picks a TTL from how close a range ends to the live edge.
type TTLPolicy struct {
	// Live applies when the range reaches now or later.
	Live time.Duration
	// Recent applies when the range ended less than Watermark ago, while
	// late segments may still be landing.
	Recent time.Duration
	// Archive applies to ranges older than Watermark, which no longer change.
	Archive   time.Duration
	Watermark time.Duration
}

// DefaultTTLPolicy returns conservative defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Live:      2 * time.Second,
		Recent:    10 * time.Second,
		Archive:   10 * time.Minute,
		Watermark: 5 * time.Minute,
	}
}

// For returns the TTL of a range ending at end, evaluated at now.
func (p TTLPolicy) For(end, now time.Time) time.Duration {
	switch age := now.Sub(end); {
	case age <= 0:
		return p.Live
	case age < p.Watermark:
		return p.Recent
	default:
		return p.Archive
	}
}
