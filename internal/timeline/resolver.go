// Package timeline turns an unordered, possibly duplicated segment inventory
// into a contiguous, gap-explicit timeline and renders it as a playlist.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"hls-archive/internal/segment"
)

// Interval is a half-open [Start, End) span of requested time. Segment is
// nil when the interval is a gap.
type Interval struct {
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	Segment *segment.Segment `json:"segment,omitempty"`
}

// IsGap reports whether no segment covers the interval.
func (iv Interval) IsGap() bool { return iv.Segment == nil }

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Timeline is the decomposition of a requested range into coverage intervals.
type Timeline struct {
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Intervals []Interval `json:"intervals"`
}

// Gaps returns the gap intervals in order.
func (tl Timeline) Gaps() []Interval {
	var out []Interval
	for _, iv := range tl.Intervals {
		if iv.IsGap() {
			out = append(out, iv)
		}
	}
	return out
}

// Covered returns the total duration backed by segments.
func (tl Timeline) Covered() time.Duration {
	var d time.Duration
	for _, iv := range tl.Intervals {
		if !iv.IsGap() {
			d += iv.Duration()
		}
	}
	return d
}

// Validate checks that the intervals are non-empty, contiguous, strictly
// increasing and span exactly [Start, End).
func (tl Timeline) Validate() error {
	if !tl.End.After(tl.Start) {
		if len(tl.Intervals) != 0 {
			return fmt.Errorf("empty range with %d intervals", len(tl.Intervals))
		}
		return nil
	}
	cursor := tl.Start
	for i, iv := range tl.Intervals {
		if !iv.Start.Equal(cursor) {
			return fmt.Errorf("interval %d starts at %s, expected %s", i, iv.Start, cursor)
		}
		if !iv.End.After(iv.Start) {
			return fmt.Errorf("interval %d is empty", i)
		}
		if iv.Segment != nil && (iv.Start.Before(iv.Segment.Start) || iv.End.After(iv.Segment.End())) {
			return fmt.Errorf("interval %d exceeds its segment", i)
		}
		cursor = iv.End
	}
	if !cursor.Equal(tl.End) {
		return fmt.Errorf("intervals end at %s, expected %s", cursor, tl.End)
	}
	return nil
}

// preferred orders segments for the sweep: earlier start first; for equal
// starts the longer one, then the most recently discovered, then the
// lexically smaller location so that identical duplicates still resolve
// the same way every time.
func preferred(a, b segment.Segment) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.Duration != b.Duration {
		return a.Duration > b.Duration
	}
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return a.Location < b.Location
}

// Resolve picks, for every instant of [start, end), the segment that covers
// it and records the instants nothing covers as gaps. Coverage selected
// earlier in the sweep is never displaced by a later overlapping segment;
// only the overlapping segment's uncovered suffix is used.
func Resolve(segments []segment.Segment, start, end time.Time) Timeline {
	tl := Timeline{Start: start, End: end}
	if !end.After(start) {
		return tl
	}

	sorted := make([]segment.Segment, 0, len(segments))
	for _, s := range segments {
		if s.Duration > 0 {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return preferred(sorted[i], sorted[j]) })

	covered := start
	for i := range sorted {
		if !covered.Before(end) {
			break
		}
		s := &sorted[i]
		segEnd := s.End()
		if !segEnd.After(covered) {
			continue
		}
		if !s.Start.Before(end) {
			break
		}
		if s.Start.After(covered) {
			tl.Intervals = append(tl.Intervals, Interval{Start: covered, End: s.Start})
			covered = s.Start
		}
		ivEnd := segEnd
		if ivEnd.After(end) {
			ivEnd = end
		}
		tl.Intervals = append(tl.Intervals, Interval{Start: covered, End: ivEnd, Segment: s})
		covered = ivEnd
	}
	if covered.Before(end) {
		tl.Intervals = append(tl.Intervals, Interval{Start: covered, End: end})
	}
	return tl
}
