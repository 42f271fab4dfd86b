package timeline

import (
	"fmt"
	"math"
	"strings"

	"hls-archive/internal/segment"

	"github.com/grafov/m3u8"
)

const fillerTitle = "filler"

// RenderMedia renders pl as an HLS VOD media playlist. Entry URIs are the
// media ref tokens prefixed with mediaBase. Every entry carries its
// program date time; flagged entries are preceded by EXT-X-DISCONTINUITY.
// An empty playlist renders as a closed playlist with no segments.
func RenderMedia(pl Playlist, mediaBase string) ([]byte, error) {
	entries := pl.Entries()
	p, err := m3u8.NewMediaPlaylist(0, uint(len(entries)))
	if err != nil {
		return nil, fmt.Errorf("new media playlist: %w", err)
	}
	p.MediaType = m3u8.VOD

	for _, e := range entries {
		title := ""
		if e.IsFiller {
			title = fillerTitle
		}
		if err := p.Append(MediaURI(mediaBase, e.Ref), e.Duration.Seconds(), title); err != nil {
			return nil, fmt.Errorf("append entry: %w", err)
		}
		if err := p.SetProgramDateTime(e.Start); err != nil {
			return nil, err
		}
		if e.Discontinuity {
			if err := p.SetDiscontinuity(); err != nil {
				return nil, err
			}
		}
	}
	p.Close()
	return append([]byte(nil), p.Encode().Bytes()...), nil
}

// RenderMaster renders a master playlist with one variant per quality,
// pointing at playlistURI(quality).
func RenderMaster(qualities []segment.Quality, bandwidth uint32, playlistURI func(segment.Quality) string) []byte {
	m := m3u8.NewMasterPlaylist()
	for _, q := range qualities {
		m.Append(playlistURI(q), nil, m3u8.VariantParams{
			Bandwidth: bandwidth,
			Name:      string(q),
		})
	}
	return append([]byte(nil), m.Encode().Bytes()...)
}

// MediaURI joins mediaBase and the ref's token.
func MediaURI(mediaBase string, ref MediaRef) string {
	if mediaBase != "" && !strings.HasSuffix(mediaBase, "/") {
		mediaBase += "/"
	}
	return mediaBase + ref.Token()
}

// TargetDuration returns the HLS #EXT-X-TARGETDURATION value for pl:
// the ceiling of the longest entry in seconds, at least 1.
func TargetDuration(pl Playlist) int {
	max := 0.0
	for _, e := range pl.Entries() {
		if d := e.Duration.Seconds(); d > max {
			max = d
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
