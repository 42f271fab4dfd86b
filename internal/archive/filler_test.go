package archive

import (
	"io"
	"testing"
	"time"

	"hls-archive/internal/timeline"
)

func TestFillerSize(t *testing.T) {
	tests := []struct {
		name    string
		bitrate int64
		dur     time.Duration
		want    int64
	}{
		{"exact packets", 188 * 8, 3 * time.Second, 3 * PacketSize},
		{"rounds up", 188 * 8, 2500 * time.Millisecond, 3 * PacketSize},
		{"at least one packet", 1000, time.Microsecond, PacketSize},
		{"default bitrate", 0, time.Second, 1330 * PacketSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fillerSize(tt.bitrate, tt.dur); got != tt.want {
				t.Errorf("fillerSize(%d, %v) = %d, want %d", tt.bitrate, tt.dur, got, tt.want)
			}
		})
	}
}

func TestFillerObject_null_packets(t *testing.T) {
	f := fillerObject{size: 2 * PacketSize}
	buf, err := io.ReadAll(io.NewSectionReader(f, 0, f.Size()))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(buf) != 2*PacketSize {
		t.Fatalf("len = %d, want %d", len(buf), 2*PacketSize)
	}
	for p := 0; p < 2; p++ {
		pkt := buf[p*PacketSize : (p+1)*PacketSize]
		if pkt[0] != 0x47 {
			t.Errorf("packet %d: sync byte %#x", p, pkt[0])
		}
		if pid := int(pkt[1]&0x1F)<<8 | int(pkt[2]); pid != 0x1FFF {
			t.Errorf("packet %d: pid %#x, want 0x1fff", p, pid)
		}
	}
}

func TestFillerObject_ReadAt_past_end(t *testing.T) {
	f := fillerObject{size: PacketSize}
	p := make([]byte, 10)
	n, err := f.ReadAt(p, PacketSize-4)
	if n != 4 || err != io.EOF {
		t.Errorf("ReadAt near end = (%d, %v), want (4, EOF)", n, err)
	}
	if p[0] != 0xFF {
		t.Errorf("stuffing byte = %#x", p[0])
	}
	if n, err := f.ReadAt(p, PacketSize); n != 0 || err != io.EOF {
		t.Errorf("ReadAt at end = (%d, %v)", n, err)
	}
}

func TestByteRange(t *testing.T) {
	const size = 100 * PacketSize
	seg := 10 * time.Second
	tests := []struct {
		name     string
		in, out  time.Duration
		wantOff  int64
		wantSize int64
	}{
		{"whole", 0, seg, 0, size},
		{"middle", 2 * time.Second, 5 * time.Second, 20 * PacketSize, 30 * PacketSize},
		{"head", 0, 2500 * time.Millisecond, 0, 25 * PacketSize},
		{"tail", 7 * time.Second, seg, 70 * PacketSize, 30 * PacketSize},
		{"unaligned widens outward", 2010 * time.Millisecond, 2990 * time.Millisecond, 20 * PacketSize, 10 * PacketSize},
		{"tiny slice keeps a packet", 5 * time.Second, 5*time.Second + time.Microsecond, 50 * PacketSize, PacketSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := timeline.MediaRef{Location: "x", SegmentDuration: seg, TrimIn: tt.in, TrimOut: tt.out}
			off, n := byteRange(size, ref)
			if off != tt.wantOff || n != tt.wantSize {
				t.Errorf("byteRange = (%d, %d), want (%d, %d)", off, n, tt.wantOff, tt.wantSize)
			}
			if off%PacketSize != 0 || (off+n != size && (off+n)%PacketSize != 0) {
				t.Errorf("slice [%d, %d) not packet aligned", off, off+n)
			}
		})
	}
}
