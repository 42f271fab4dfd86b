package archive

import (
	"io"
	"math"
	"math/bits"
	"time"

	"hls-archive/internal/timeline"
)

// PacketSize is the MPEG-TS packet size. Byte slices of stored segments
// are aligned to it.
const PacketSize = 188

// DefaultFillerBitrate sizes filler when none is configured, in bits per second.
const DefaultFillerBitrate = 2_000_000

// nullPacket is an MPEG-TS packet on the null PID 0x1FFF with a stuffing
// payload. Demuxers discard it.
var nullPacket = func() [PacketSize]byte {
	var p [PacketSize]byte
	p[0] = 0x47
	p[1] = 0x1F
	p[2] = 0xFF
	p[3] = 0x10
	for i := 4; i < PacketSize; i++ {
		p[i] = 0xFF
	}
	return p
}()

// fillerSize returns the byte size of filler for d at bitrate bits/s,
// rounded up to whole packets and never less than one packet.
func fillerSize(bitrate int64, d time.Duration) int64 {
	if bitrate <= 0 {
		bitrate = DefaultFillerBitrate
	}
	packets := int64(math.Ceil(float64(bitrate) * d.Seconds() / 8 / PacketSize))
	if packets < 1 {
		packets = 1
	}
	return packets * PacketSize
}

// fillerObject is an endless run of null packets truncated to size.
type fillerObject struct {
	size int64
}

func (f fillerObject) Size() int64  { return f.size }
func (f fillerObject) Close() error { return nil }

func (f fillerObject) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	n := len(p)
	if rem := f.size - off; int64(n) > rem {
		n = int(rem)
	}
	for i := 0; i < n; i++ {
		p[i] = nullPacket[(off+int64(i))%PacketSize]
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// byteRange maps the ref's time trims onto an object of size bytes. Offsets
// are proportional to time and aligned outward to packet boundaries, so the
// slice always contains the requested time span.
func byteRange(size int64, ref timeline.MediaRef) (off, n int64) {
	if ref.Whole() || ref.SegmentDuration <= 0 || size <= 0 {
		return 0, size
	}
	start := mulDiv(size, int64(ref.TrimIn), int64(ref.SegmentDuration), false) / PacketSize * PacketSize
	end := mulDiv(size, int64(ref.TrimOut), int64(ref.SegmentDuration), true)
	end = (end + PacketSize - 1) / PacketSize * PacketSize
	if end > size || ref.TrimOut == ref.SegmentDuration {
		end = size
	}
	if start >= end {
		start = end - PacketSize
		if start < 0 {
			start = 0
		}
	}
	return start, end - start
}

// mulDiv returns a*b/d for non-negative a, b and b <= d without
// intermediate overflow, rounding up when ceil is set.
func mulDiv(a, b, d int64, ceil bool) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	q, r := bits.Div64(hi, lo, uint64(d))
	if ceil && r > 0 {
		q++
	}
	return int64(q)
}
