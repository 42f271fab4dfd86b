package timeline

import (
	"fmt"
	"strings"
	"time"

	"hls-archive/internal/segment"
)

// GapPolicy selects how unfilled gaps appear in a playlist.
type GapPolicy string

const (
	// GapFill substitutes a filler entry of the gap's duration.
	GapFill GapPolicy = "fill"
	// GapSplit ends the current playable range at the gap.
	GapSplit GapPolicy = "split"
)

// ParseGapPolicy parses "fill" or "split" (case-insensitive).
func ParseGapPolicy(s string) (GapPolicy, error) {
	switch p := GapPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case GapFill, GapSplit:
		return p, nil
	}
	return "", fmt.Errorf("unknown gap policy %q", s)
}

// Entry is one playable unit of a playlist.
type Entry struct {
	Start         time.Time     `json:"start"`
	Duration      time.Duration `json:"duration"`
	Discontinuity bool          `json:"discontinuity"`
	Ref           MediaRef      `json:"ref"`
	IsFiller      bool          `json:"is_filler"`
}

// Range is a run of entries that plays without interruption.
type Range struct {
	Entries []Entry `json:"entries"`
}

// Start returns the start of the first entry.
func (r Range) Start() time.Time { return r.Entries[0].Start }

// End returns the end of the last entry.
func (r Range) End() time.Time {
	last := r.Entries[len(r.Entries)-1]
	return last.Start.Add(last.Duration)
}

// Playlist is a Timeline rendered into playable entries.
type Playlist struct {
	Policy GapPolicy `json:"policy"`
	Ranges []Range   `json:"ranges"`
}

// Entries returns every entry of every range, in order.
func (p Playlist) Entries() []Entry {
	var out []Entry
	for _, r := range p.Ranges {
		out = append(out, r.Entries...)
	}
	return out
}

// Empty reports whether the playlist has nothing to play.
func (p Playlist) Empty() bool { return len(p.Ranges) == 0 }

// Duration returns the total playable duration.
func (p Playlist) Duration() time.Duration {
	var d time.Duration
	for _, e := range p.Entries() {
		d += e.Duration
	}
	return d
}

// Assembler converts timelines into playlists. Its output depends only on
// its configuration and the timeline.
type Assembler struct {
	Policy GapPolicy
	// MinGap is the shortest gap reported as a break. Shorter gaps are
	// bridged with filler under either policy.
	MinGap time.Duration
}

// Assemble builds the playlist for tl.
func (a Assembler) Assemble(tl Timeline) Playlist {
	policy := a.Policy
	if policy == "" {
		policy = GapSplit
	}
	pl := Playlist{Policy: policy}

	var (
		cur       []Entry
		prev      *segment.Segment
		gapBefore bool
		emitted   bool
	)
	flush := func() {
		if len(cur) > 0 {
			pl.Ranges = append(pl.Ranges, Range{Entries: cur})
			cur = nil
		}
	}

	for _, iv := range tl.Intervals {
		if iv.IsGap() {
			if iv.Duration() < a.MinGap {
				cur = append(cur, fillerEntries(iv, false)...)
				emitted = true
				continue
			}
			if policy == GapFill {
				cur = append(cur, fillerEntries(iv, emitted)...)
				emitted = true
			} else {
				flush()
			}
			gapBefore = true
			continue
		}

		s := iv.Segment
		disc := gapBefore && emitted
		if prev != nil && (prev.Quality != s.Quality || prev.Encoding != s.Encoding) {
			disc = true
		}
		cur = append(cur, Entry{
			Start:         iv.Start,
			Duration:      iv.Duration(),
			Discontinuity: disc,
			Ref: MediaRef{
				Location:        s.Location,
				SegmentDuration: s.Duration,
				TrimIn:          iv.Start.Sub(s.Start),
				TrimOut:         iv.End.Sub(s.Start),
			},
		})
		prev = s
		gapBefore = false
		emitted = true
	}
	flush()
	return pl
}

// fillerEntries covers a gap with filler units of at most
// MaxFillerDuration. Only the first carries disc.
func fillerEntries(iv Interval, disc bool) []Entry {
	var out []Entry
	for at := iv.Start; at.Before(iv.End); at = at.Add(MaxFillerDuration) {
		d := min(iv.End.Sub(at), MaxFillerDuration)
		out = append(out, Entry{
			Start:         at,
			Duration:      d,
			Discontinuity: disc && at.Equal(iv.Start),
			Ref:           MediaRef{Filler: true, TrimOut: d},
			IsFiller:      true,
		})
	}
	return out
}
