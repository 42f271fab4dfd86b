package timeline

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadMediaRef is returned when a media reference cannot be decoded.
var ErrBadMediaRef = errors.New("malformed media reference")

// MaxFillerDuration bounds one filler unit. Longer gaps are filled with
// several units.
const MaxFillerDuration = 10 * time.Second

// MediaSuffix is appended to every media reference so players treat the
// unit as an MPEG-TS chunk.
const MediaSuffix = ".ts"

// MediaRef names one retrievable media unit: a slice of a stored segment,
// or synthesized filler.
type MediaRef struct {
	Filler   bool
	Location string
	// SegmentDuration is the full duration of the referenced segment.
	SegmentDuration time.Duration
	// TrimIn and TrimOut are offsets from the segment start. For filler,
	// TrimIn is zero and TrimOut is the filler duration.
	TrimIn  time.Duration
	TrimOut time.Duration
}

// Duration returns the playable duration of the unit.
func (r MediaRef) Duration() time.Duration { return r.TrimOut - r.TrimIn }

// Whole reports whether the ref spans its entire segment.
func (r MediaRef) Whole() bool {
	return !r.Filler && r.TrimIn == 0 && r.TrimOut == r.SegmentDuration
}

// Token encodes the ref as a URL-safe path element ending in MediaSuffix.
func (r MediaRef) Token() string {
	var raw string
	if r.Filler {
		raw = "f|" + strconv.FormatInt(int64(r.TrimOut), 10)
	} else {
		raw = strings.Join([]string{
			"s",
			strconv.FormatInt(int64(r.SegmentDuration), 10),
			strconv.FormatInt(int64(r.TrimIn), 10),
			strconv.FormatInt(int64(r.TrimOut), 10),
			r.Location,
		}, "|")
	}
	return base64.RawURLEncoding.EncodeToString([]byte(raw)) + MediaSuffix
}

// ParseMediaRef decodes a token produced by MediaRef.Token.
func ParseMediaRef(token string) (MediaRef, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(token, MediaSuffix))
	if err != nil {
		return MediaRef{}, fmt.Errorf("%w: %v", ErrBadMediaRef, err)
	}
	parts := strings.SplitN(string(b), "|", 5)
	switch {
	case len(parts) == 2 && parts[0] == "f":
		d, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || d <= 0 || time.Duration(d) > MaxFillerDuration {
			return MediaRef{}, fmt.Errorf("%w: filler duration %q", ErrBadMediaRef, parts[1])
		}
		return MediaRef{Filler: true, TrimOut: time.Duration(d)}, nil
	case len(parts) == 5 && parts[0] == "s":
		var n [3]int64
		for i := range n {
			if n[i], err = strconv.ParseInt(parts[i+1], 10, 64); err != nil {
				return MediaRef{}, fmt.Errorf("%w: %v", ErrBadMediaRef, err)
			}
		}
		ref := MediaRef{
			Location:        parts[4],
			SegmentDuration: time.Duration(n[0]),
			TrimIn:          time.Duration(n[1]),
			TrimOut:         time.Duration(n[2]),
		}
		if ref.Location == "" || ref.TrimIn < 0 || ref.TrimOut <= ref.TrimIn || ref.TrimOut > ref.SegmentDuration {
			return MediaRef{}, fmt.Errorf("%w: inconsistent trims", ErrBadMediaRef)
		}
		return ref, nil
	}
	return MediaRef{}, ErrBadMediaRef
}
