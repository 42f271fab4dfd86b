package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// DefaultQueryTimeout bounds a single index query when none is configured.
const DefaultQueryTimeout = 5 * time.Second

// Index is the read interface of the segment metadata store.
// Implementations return every segment overlapping [start, end) in any
// order, duplicates and overlaps included.
type Index interface {
	Query(ctx context.Context, channel ChannelID, quality Quality, start, end time.Time) ([]Segment, error)
	Qualities(ctx context.Context, channel ChannelID) ([]Quality, error)
}

// Writer is implemented by index backends that accept new descriptors.
type Writer interface {
	Insert(ctx context.Context, seg Segment) error
}

// Reader is the query facade the playlist pipeline uses. It owns no data.
type Reader struct {
	index   Index
	timeout time.Duration
	log     *slog.Logger
}

// NewReader returns a Reader over index. If timeout <= 0, DefaultQueryTimeout is used.
func NewReader(index Index, timeout time.Duration, log *slog.Logger) *Reader {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reader{index: index, timeout: timeout, log: log}
}

// Fetch returns the segments of channel/quality overlapping [start, end),
// ascending by start time. Duplicates and overlaps are passed through.
// A failed or timed out query yields ErrIndexUnavailable, never a partial result.
func (r *Reader) Fetch(ctx context.Context, channel ChannelID, quality Quality, start, end time.Time) ([]Segment, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.index.Query(qctx, channel, quality, start, end)
	if err == nil && qctx.Err() != nil {
		err = qctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query %s/%s: %v", ErrIndexUnavailable, channel, quality, err)
	}

	out := make([]Segment, 0, len(raw))
	for _, seg := range raw {
		if seg.Duration <= 0 || seg.Channel != channel || seg.Quality != quality {
			r.log.Warn("dropping malformed segment descriptor",
				slog.String("channel", string(seg.Channel)),
				slog.String("quality", string(seg.Quality)),
				slog.String("location", seg.Location),
				slog.Duration("duration", seg.Duration))
			continue
		}
		seg.Start = seg.Start.UTC()
		out = append(out, seg)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Qualities returns the qualities recorded for channel, sorted.
func (r *Reader) Qualities(ctx context.Context, channel ChannelID) ([]Quality, error) {
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	qs, err := r.index.Qualities(qctx, channel)
	if err == nil && qctx.Err() != nil {
		err = qctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: qualities %s: %v", ErrIndexUnavailable, channel, err)
	}
	out := append([]Quality(nil), qs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
