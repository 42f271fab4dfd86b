package timeline

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"hls-archive/internal/segment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64) time.Time { return epoch.Add(segment.SecondsToDuration(sec)) }

func seg(start, dur float64, seq int64) segment.Segment {
	return segment.Segment{
		Channel:  "desertbus",
		Quality:  "source",
		Start:    at(start),
		Duration: segment.SecondsToDuration(dur),
		Location: fmt.Sprintf("/desertbus/source/%g-%d.ts", start, seq),
		Sequence: seq,
	}
}

type span struct {
	start, end float64
	gap        bool
}

func spans(tl Timeline) []span {
	out := make([]span, 0, len(tl.Intervals))
	for _, iv := range tl.Intervals {
		out = append(out, span{
			start: iv.Start.Sub(epoch).Seconds(),
			end:   iv.End.Sub(epoch).Seconds(),
			gap:   iv.IsGap(),
		})
	}
	return out
}

func TestResolve_contiguous_cover_has_no_gaps(t *testing.T) {
	segs := []segment.Segment{seg(4, 2, 3), seg(0, 2, 1), seg(2, 2, 2), seg(6, 4, 4)}
	tl := Resolve(segs, at(0), at(10))

	require.NoError(t, tl.Validate())
	assert.Empty(t, tl.Gaps())
	assert.Equal(t, 10*time.Second, tl.Covered())
	assert.Len(t, tl.Intervals, 4)
}

func TestResolve_gap_in_the_middle(t *testing.T) {
	segs := []segment.Segment{seg(0, 5, 1), seg(8, 2, 2)}
	tl := Resolve(segs, at(0), at(10))

	require.NoError(t, tl.Validate())
	assert.Equal(t, []span{{0, 5, false}, {5, 8, true}, {8, 10, false}}, spans(tl))
}

func TestResolve_empty_index_is_one_gap(t *testing.T) {
	tl := Resolve(nil, at(100), at(200))

	require.NoError(t, tl.Validate())
	assert.Equal(t, []span{{100, 200, true}}, spans(tl))
}

func TestResolve_zero_length_range(t *testing.T) {
	tl := Resolve([]segment.Segment{seg(0, 2, 1)}, at(1), at(1))
	assert.Empty(t, tl.Intervals)
	assert.NoError(t, tl.Validate())
}

func TestResolve_tie_break_prefers_latest_discovery(t *testing.T) {
	first := seg(10, 5, 1)
	second := seg(10, 5, 2)
	tl := Resolve([]segment.Segment{second, first}, at(10), at(15))

	require.Len(t, tl.Intervals, 1)
	assert.Equal(t, int64(2), tl.Intervals[0].Segment.Sequence)

	// Input order does not matter.
	tl = Resolve([]segment.Segment{first, second}, at(10), at(15))
	assert.Equal(t, int64(2), tl.Intervals[0].Segment.Sequence)
}

func TestResolve_tie_break_prefers_longer(t *testing.T) {
	short := seg(10, 2, 9)
	long := seg(10, 5, 1)
	tl := Resolve([]segment.Segment{short, long}, at(10), at(15))

	require.Len(t, tl.Intervals, 1)
	assert.Equal(t, long.Location, tl.Intervals[0].Segment.Location)
}

func TestResolve_identical_duplicates_pick_smallest_location(t *testing.T) {
	a := seg(0, 2, 1)
	a.Location = "/b.ts"
	b := seg(0, 2, 1)
	b.Location = "/a.ts"
	tl := Resolve([]segment.Segment{a, b}, at(0), at(2))

	require.Len(t, tl.Intervals, 1)
	assert.Equal(t, "/a.ts", tl.Intervals[0].Segment.Location)
}

func TestResolve_overlap_uses_suffix_only(t *testing.T) {
	segs := []segment.Segment{seg(0, 4, 1), seg(3, 4, 2)}
	tl := Resolve(segs, at(0), at(7))

	require.NoError(t, tl.Validate())
	require.Equal(t, []span{{0, 4, false}, {4, 7, false}}, spans(tl))
	assert.Equal(t, int64(1), tl.Intervals[0].Segment.Sequence)
	assert.Equal(t, int64(2), tl.Intervals[1].Segment.Sequence)
}

func TestResolve_segment_contained_in_earlier_is_skipped(t *testing.T) {
	segs := []segment.Segment{seg(0, 6, 1), seg(1, 2, 2), seg(6, 2, 3)}
	tl := Resolve(segs, at(0), at(8))

	require.NoError(t, tl.Validate())
	assert.Equal(t, []span{{0, 6, false}, {6, 8, false}}, spans(tl))
}

func TestResolve_clips_to_requested_bounds(t *testing.T) {
	segs := []segment.Segment{seg(0, 4, 1), seg(4, 4, 2)}
	tl := Resolve(segs, at(1), at(6))

	require.NoError(t, tl.Validate())
	assert.Equal(t, []span{{1, 4, false}, {4, 6, false}}, spans(tl))
}

func TestResolve_leading_and_trailing_gaps(t *testing.T) {
	tl := Resolve([]segment.Segment{seg(3, 2, 1)}, at(0), at(10))
	assert.Equal(t, []span{{0, 3, true}, {3, 5, false}, {5, 10, true}}, spans(tl))
}

func TestResolve_invariants_random_inventories(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var segs []segment.Segment
		n := rng.Intn(30)
		for i := 0; i < n; i++ {
			start := float64(rng.Intn(120)) / 2
			dur := float64(rng.Intn(8)+1) / 2
			segs = append(segs, seg(start, dur, int64(rng.Intn(5))))
		}
		lo := float64(rng.Intn(40))
		hi := lo + float64(rng.Intn(40)+1)

		tl := Resolve(segs, at(lo), at(hi))
		require.NoError(t, tl.Validate(), "round %d", round)

		var total time.Duration
		for _, iv := range tl.Intervals {
			total += iv.Duration()
		}
		require.Equal(t, at(hi).Sub(at(lo)), total, "round %d", round)

		// Shuffled input yields the same timeline.
		shuffled := append([]segment.Segment(nil), segs...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		again := Resolve(shuffled, at(lo), at(hi))
		require.Equal(t, locations(tl), locations(again), "round %d", round)
	}
}

func locations(tl Timeline) []string {
	out := make([]string, len(tl.Intervals))
	for i, iv := range tl.Intervals {
		if iv.Segment != nil {
			out[i] = iv.Segment.Location
		}
	}
	return out
}
