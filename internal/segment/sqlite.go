package segment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// SQLiteConfig holds connection parameters for SQLiteIndex.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns settings suited to a read-heavy WAL database.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 16,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS segments (
	channel            TEXT    NOT NULL,
	quality            TEXT    NOT NULL,
	start_us           INTEGER NOT NULL,
	end_us             INTEGER NOT NULL,
	duration           REAL    NOT NULL,
	location           TEXT    NOT NULL UNIQUE,
	discovery_sequence INTEGER NOT NULL,
	type               TEXT    NOT NULL DEFAULT '',
	encoding           TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS segments_channel_quality_start
	ON segments (channel, quality, start_us);
`

// SQLiteIndex is an Index backed by a SQLite database.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, cfg SQLiteConfig) (*SQLiteIndex, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	idx := &SQLiteIndex{db: db}
	if err := idx.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// Migrate creates the segments table and its index if missing.
func (s *SQLiteIndex) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Insert records a descriptor. A location already present is ignored.
func (s *SQLiteIndex) Insert(ctx context.Context, seg Segment) error {
	if seg.Channel == "" || seg.Quality == "" || seg.Location == "" || seg.Duration <= 0 {
		return ErrInvalidSegment
	}
	start := seg.Start.UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO segments
			(channel, quality, start_us, end_us, duration, location, discovery_sequence, type, encoding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(seg.Channel), string(seg.Quality),
		start.UnixMicro(), start.Add(seg.Duration).UnixMicro(), seg.Duration.Seconds(),
		seg.Location, seg.Sequence, string(seg.Type), seg.Encoding)
	if err != nil {
		return fmt.Errorf("sqlite: insert %s: %w", seg.Location, err)
	}
	return nil
}

// Query implements Index.Query.
func (s *SQLiteIndex) Query(ctx context.Context, channel ChannelID, quality Quality, start, end time.Time) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_us, duration, location, discovery_sequence, type, encoding
		FROM segments
		WHERE channel = ? AND quality = ? AND start_us < ? AND end_us > ?`,
		string(channel), string(quality), end.UnixMicro(), start.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var (
			startUS  int64
			duration float64
			segType  string
			seg      = Segment{Channel: channel, Quality: quality}
		)
		if err := rows.Scan(&startUS, &duration, &seg.Location, &seg.Sequence, &segType, &seg.Encoding); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		seg.Start = time.UnixMicro(startUS).UTC()
		seg.Duration = SecondsToDuration(duration)
		seg.Type = SegmentType(segType)
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return out, nil
}

// Qualities implements Index.Qualities.
func (s *SQLiteIndex) Qualities(ctx context.Context, channel ChannelID) ([]Quality, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT quality FROM segments WHERE channel = ? ORDER BY quality`, string(channel))
	if err != nil {
		return nil, fmt.Errorf("sqlite: qualities: %w", err)
	}
	defer rows.Close()

	var out []Quality
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		out = append(out, Quality(q))
	}
	return out, rows.Err()
}
