// Package ipv4 implements the IPv4 header as a parsed view over a borrowed
// byte slice (IHL=5, no options, no fragmentation support — per scope,
// transit packets are forwarded verbatim and fragmentation is not
// reassembled or performed).
package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gopherlab/vnet/checksum"
)

// MinHeaderSize is the smallest legal IPv4 header (IHL=5, no options).
const MinHeaderSize = 20

// Protocol identifies the upper-layer payload.
type Protocol uint8

const (
	ProtocolICMP Protocol = 1
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtocolICMP:
		return "ICMP"
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// Flags occupies the top 3 bits of the 16-bit flags+fragment-offset field.
type Flags uint8

const (
	FlagMoreFragments Flags = 1 << 0
	FlagDontFragment  Flags = 1 << 1
)

var (
	errShort        = errors.New("ipv4: buffer shorter than header")
	errBadVersion   = errors.New("ipv4: version field is not 4")
	errBadIHL       = errors.New("ipv4: IHL out of range")
	errTotalLenOOB  = errors.New("ipv4: total length exceeds buffer")
	errChecksumBad  = errors.New("ipv4: header checksum mismatch")
	ErrChecksumBad  = errChecksumBad
	ErrMalformed    = errors.New("ipv4: malformed header")
)

// Frame is a parsed view over an IPv4 header plus payload.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf, requiring at least MinHeaderSize bytes.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < MinHeaderSize {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// ValidateExceptCRC performs the structural checks R2 requires before
// trusting header fields, without touching the checksum: version==4, IHL in
// [5,15] and not exceeding the buffer, total length not exceeding the
// buffer.
func (f Frame) ValidateExceptCRC() error {
	if len(f.buf) < MinHeaderSize {
		return errShort
	}
	if f.Version() != 4 {
		return errBadVersion
	}
	ihl := f.IHL()
	if ihl < 5 || int(ihl)*4 > len(f.buf) {
		return errBadIHL
	}
	if int(f.TotalLength()) > len(f.buf) || int(f.TotalLength()) < int(ihl)*4 {
		return errTotalLenOOB
	}
	return nil
}

// ValidateChecksum recomputes the header checksum with the checksum field
// zeroed and compares it against the stored value.
func (f Frame) ValidateChecksum() error {
	hdrLen := int(f.IHL()) * 4
	if hdrLen > len(f.buf) {
		return errShort
	}
	if !checksum.Verify(f.buf[:hdrLen], 10) {
		return errChecksumBad
	}
	return nil
}

func (f Frame) Version() uint8 { return f.buf[0] >> 4 }
func (f Frame) IHL() uint8     { return f.buf[0] & 0x0f }

func (f Frame) SetVersionAndIHL(ihl uint8) { f.buf[0] = 4<<4 | (ihl & 0x0f) }

func (f Frame) HeaderLen() int { return int(f.IHL()) * 4 }

func (f Frame) TOS() uint8     { return f.buf[1] }
func (f Frame) SetTOS(v uint8) { f.buf[1] = v }

func (f Frame) TotalLength() uint16    { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) SetTotalLength(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

func (f Frame) ID() uint16    { return binary.BigEndian.Uint16(f.buf[4:6]) }
func (f Frame) SetID(v uint16) { binary.BigEndian.PutUint16(f.buf[4:6], v) }

func (f Frame) FlagsAndFragOffset() uint16 { return binary.BigEndian.Uint16(f.buf[6:8]) }
func (f Frame) Flags() Flags               { return Flags(f.FlagsAndFragOffset() >> 13) }
func (f Frame) FragmentOffset() uint16     { return f.FlagsAndFragOffset() & 0x1fff }

func (f Frame) SetFlagsAndFragmentOffset(flags Flags, fragOffset uint16) {
	v := uint16(flags&0x7)<<13 | (fragOffset & 0x1fff)
	binary.BigEndian.PutUint16(f.buf[6:8], v)
}

func (f Frame) TTL() uint8      { return f.buf[8] }
func (f Frame) SetTTL(v uint8)  { f.buf[8] = v }
func (f Frame) DecrementTTL() uint8 {
	f.buf[8]--
	return f.buf[8]
}

func (f Frame) Protocol() Protocol      { return Protocol(f.buf[9]) }
func (f Frame) SetProtocol(p Protocol)  { f.buf[9] = uint8(p) }

func (f Frame) Checksum() uint16     { return binary.BigEndian.Uint16(f.buf[10:12]) }
func (f Frame) setChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[10:12], v) }

func (f Frame) Source() [4]byte      { return addr4(f.buf, 12) }
func (f Frame) Destination() [4]byte { return addr4(f.buf, 16) }
func (f Frame) SetSource(a [4]byte)      { copy(f.buf[12:16], a[:]) }
func (f Frame) SetDestination(a [4]byte) { copy(f.buf[16:20], a[:]) }

// Options returns the variable-length options area (IHL>5), empty otherwise.
func (f Frame) Options() []byte { return f.buf[MinHeaderSize:f.HeaderLen()] }

// Payload returns the bytes after the header, up to TotalLength (or the end
// of the buffer if TotalLength looks bogus — callers should validate first).
func (f Frame) Payload() []byte {
	hdrLen := f.HeaderLen()
	total := int(f.TotalLength())
	if total > hdrLen && total <= len(f.buf) {
		return f.buf[hdrLen:total]
	}
	return f.buf[hdrLen:]
}

// Raw returns the wrapped buffer cut to TotalLength, or the whole buffer
// when TotalLength is zero or larger than the buffer.
func (f Frame) Raw() []byte { return f.buf[:f.effectiveLen()] }

func (f Frame) effectiveLen() int {
	total := int(f.TotalLength())
	if total > 0 && total <= len(f.buf) {
		return total
	}
	return len(f.buf)
}

// RecomputeChecksum zeroes the checksum field, recomputes it over the
// header, and stores the result. Per invariant, this must be called with
// the field zeroed during computation.
func (f Frame) RecomputeChecksum() {
	hdrLen := f.HeaderLen()
	f.setChecksum(0)
	f.setChecksum(checksum.Sum16(f.buf[:hdrLen]))
}

func (f Frame) String() string {
	return fmt.Sprintf("ipv4{src=%d.%d.%d.%d dst=%d.%d.%d.%d ttl=%d proto=%s len=%d}",
		f.Source()[0], f.Source()[1], f.Source()[2], f.Source()[3],
		f.Destination()[0], f.Destination()[1], f.Destination()[2], f.Destination()[3],
		f.TTL(), f.Protocol(), f.TotalLength())
}

func addr4(buf []byte, off int) (a [4]byte) {
	copy(a[:], buf[off:off+4])
	return a
}
