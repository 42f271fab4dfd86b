package segment

import "time"

// ChannelID identifies a captured channel.
type ChannelID string

// Quality identifies a variant of a channel (e.g. "source", "720p").
type Quality string

// SegmentType is the capture worker's own classification of a segment.
type SegmentType string

const (
	// TypeFull is a segment captured completely.
	TypeFull SegmentType = "full"
	// TypePartial is a segment whose capture was cut short.
	TypePartial SegmentType = "partial"
	// TypeSuspect is a full-length segment the capture worker could not verify.
	TypeSuspect SegmentType = "suspect"
)

// Segment is an immutable descriptor of one stored media chunk.
// This also matches the JSON payload accepted by the ingest endpoint.
type Segment struct {
	Channel  ChannelID     `json:"channel"`
	Quality  Quality       `json:"quality"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Location string        `json:"location"`
	// Sequence is the discovery sequence: higher means discovered later.
	Sequence int64       `json:"sequence"`
	Type     SegmentType `json:"type,omitempty"`
	// Encoding fingerprints the encoder parameters. A change between
	// adjacent playlist entries breaks continuous decode.
	Encoding string `json:"encoding,omitempty"`
}

// End returns the exclusive end of the segment.
func (s Segment) End() time.Time {
	return s.Start.Add(s.Duration)
}

// Overlaps reports whether the segment intersects [start, end).
func (s Segment) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && s.End().After(start)
}

// SecondsToDuration converts a float seconds value as stored by capture
// workers into a Duration, rounded to the microsecond.
func SecondsToDuration(seconds float64) time.Duration {
	us := int64(seconds*1e6 + 0.5)
	if seconds < 0 {
		us = int64(seconds*1e6 - 0.5)
	}
	return time.Duration(us) * time.Microsecond
}
