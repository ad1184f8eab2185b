// Package ctcp implements the reliable transport: the segment wire
// format, per-connection send/receive pipelines, and the registry that
// drives retransmission across all open connections.
package ctcp

import (
	"encoding/binary"
	"fmt"

	"github.com/gopherlab/vnet/checksum"
)

// HeaderSize is the fixed cTCP segment header: seqno(4), ackno(4), len(2),
// 2 bytes reserved, flags(4), window(2), checksum(2).
const HeaderSize = 20

// MaxSegData is the default maximum payload carried by one segment. It is
// a build-time constant in the original harness; callers needing a
// different MTU-derived value may chunk Send calls accordingly.
const MaxSegData = 1440

// Flags occupies the 4-byte flags field. Only ACK and FIN are meaningful;
// the field shares the bit layout of the standard TCP flag byte.
type Flags uint32

const (
	FlagFIN Flags = 0x01
	FlagACK Flags = 0x10
)

func (f Flags) HasAll(mask Flags) bool { return f&mask == mask }
func (f Flags) HasAny(mask Flags) bool { return f&mask != 0 }

func (f Flags) String() string {
	switch {
	case f.HasAll(FlagACK | FlagFIN):
		return "[ACK,FIN]"
	case f.HasAll(FlagACK):
		return "[ACK]"
	case f.HasAll(FlagFIN):
		return "[FIN]"
	default:
		return "[]"
	}
}

// Segment is a parsed view over a cTCP segment stored in a borrowed slice.
type Segment struct {
	buf []byte
}

// NewSegment wraps buf, requiring at least HeaderSize bytes.
func NewSegment(buf []byte) (Segment, error) {
	if len(buf) < HeaderSize {
		return Segment{}, fmt.Errorf("ctcp: buffer shorter than header (%d < %d)", len(buf), HeaderSize)
	}
	return Segment{buf: buf}, nil
}

func (s Segment) Seqno() uint32     { return binary.BigEndian.Uint32(s.buf[0:4]) }
func (s Segment) SetSeqno(v uint32) { binary.BigEndian.PutUint32(s.buf[0:4], v) }

func (s Segment) Ackno() uint32     { return binary.BigEndian.Uint32(s.buf[4:8]) }
func (s Segment) SetAckno(v uint32) { binary.BigEndian.PutUint32(s.buf[4:8], v) }

// Len is the total segment length in bytes, header included.
func (s Segment) Len() uint16     { return binary.BigEndian.Uint16(s.buf[8:10]) }
func (s Segment) SetLen(v uint16) { binary.BigEndian.PutUint16(s.buf[8:10], v) }

func (s Segment) Flags() Flags     { return Flags(binary.BigEndian.Uint32(s.buf[12:16])) }
func (s Segment) SetFlags(f Flags) { binary.BigEndian.PutUint32(s.buf[12:16], uint32(f)) }

func (s Segment) Window() uint16     { return binary.BigEndian.Uint16(s.buf[16:18]) }
func (s Segment) SetWindow(v uint16) { binary.BigEndian.PutUint16(s.buf[16:18], v) }

func (s Segment) Checksum() uint16 { return binary.BigEndian.Uint16(s.buf[18:20]) }

// DataLen returns the payload length implied by Len (Len minus the header).
// Returns 0 if Len is smaller than the header (malformed).
func (s Segment) DataLen() int {
	l := int(s.Len())
	if l < HeaderSize {
		return 0
	}
	return l - HeaderSize
}

// Payload returns the data bytes following the header, bounded by Len.
func (s Segment) Payload() []byte {
	l := int(s.Len())
	if l < HeaderSize || l > len(s.buf) {
		return nil
	}
	return s.buf[HeaderSize:l]
}

// Raw returns the full segment, bounded by Len (or the whole buffer if Len
// looks bogus — callers should validate first).
func (s Segment) Raw() []byte {
	l := int(s.Len())
	if l >= HeaderSize && l <= len(s.buf) {
		return s.buf[:l]
	}
	return s.buf
}

// RecomputeChecksum zeroes the checksum field, sums the entire segment
// (header to Len), and stores the one's-complement result.
func (s Segment) RecomputeChecksum() {
	binary.BigEndian.PutUint16(s.buf[18:20], 0)
	binary.BigEndian.PutUint16(s.buf[18:20], checksum.Sum16(s.Raw()))
}

// ValidateChecksum recomputes the checksum with the field zeroed and
// compares it to the stored value.
func (s Segment) ValidateChecksum() bool {
	return checksum.Verify(s.Raw(), 18)
}

// BuildSegment initializes buf (which must be at least HeaderSize+len(data)
// bytes) as a segment with the given fields, copies data into the payload,
// and recomputes the checksum.
func BuildSegment(buf []byte, seqno, ackno uint32, flags Flags, window uint16, data []byte) (Segment, error) {
	total := HeaderSize + len(data)
	if len(buf) < total {
		return Segment{}, fmt.Errorf("ctcp: buffer too small for segment (%d < %d)", len(buf), total)
	}
	s, err := NewSegment(buf[:total])
	if err != nil {
		return Segment{}, err
	}
	s.SetSeqno(seqno)
	s.SetAckno(ackno)
	s.SetLen(uint16(total))
	binary.BigEndian.PutUint16(s.buf[10:12], 0) // reserved
	s.SetFlags(flags)
	s.SetWindow(window)
	copy(s.buf[HeaderSize:total], data)
	s.RecomputeChecksum()
	return s, nil
}

func (s Segment) String() string {
	return fmt.Sprintf("ctcp{seq=%d ack=%d len=%d flags=%s win=%d datalen=%d}",
		s.Seqno(), s.Ackno(), s.Len(), s.Flags(), s.Window(), s.DataLen())
}
