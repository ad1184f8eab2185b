// Package icmp builds the ICMP messages the router emits: Echo Reply,
// Destination Unreachable, and Time Exceeded.
package icmp

import (
	"encoding/binary"
	"fmt"

	"github.com/gopherlab/vnet/checksum"
)

// Type is the ICMP message type.
type Type uint8

const (
	TypeEchoReply         Type = 0
	TypeDestUnreachable    Type = 3
	TypeEcho               Type = 8
	TypeTimeExceeded        Type = 11
)

// Code qualifies a Type.
type Code uint8

const (
	CodeNetUnreachable      Code = 0
	CodeHostUnreachable     Code = 1
	CodeProtoUnreachable    Code = 2
	CodePortUnreachable     Code = 3
	CodeFragNeededAndDFSet  Code = 4
	CodeSourceRouteFailed   Code = 5

	CodeExceededInTransit Code = 0
	CodeEchoReply         Code = 0
	CodeEcho              Code = 0
)

func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "EchoReply"
	case TypeDestUnreachable:
		return "DestUnreachable"
	case TypeEcho:
		return "Echo"
	case TypeTimeExceeded:
		return "TimeExceeded"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// HeaderSize is the 8-byte ICMP header common to all message types used
// here: type(1), code(1), checksum(2), then 4 bytes whose meaning depends
// on the type (echo id+seq, or unused/next-mtu for error messages).
const HeaderSize = 8

// DataSize is the amount of the original packet (IP header + leading
// payload bytes) quoted in Destination Unreachable / Time Exceeded
// messages, per RFC 792's convention reused by the course harness.
const DataSize = 28

// Frame is a parsed view over an ICMP message stored in a borrowed slice.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf, requiring at least HeaderSize bytes.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, fmt.Errorf("icmp: buffer shorter than header (%d < %d)", len(buf), HeaderSize)
	}
	return Frame{buf: buf}, nil
}

func (f Frame) Type() Type      { return Type(f.buf[0]) }
func (f Frame) SetType(t Type)  { f.buf[0] = uint8(t) }
func (f Frame) Code() Code      { return Code(f.buf[1]) }
func (f Frame) SetCode(c Code)  { f.buf[1] = uint8(c) }
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

func (f Frame) EchoID() uint16      { return binary.BigEndian.Uint16(f.buf[4:6]) }
func (f Frame) SetEchoID(v uint16)  { binary.BigEndian.PutUint16(f.buf[4:6], v) }
func (f Frame) EchoSeq() uint16     { return binary.BigEndian.Uint16(f.buf[6:8]) }
func (f Frame) SetEchoSeq(v uint16) { binary.BigEndian.PutUint16(f.buf[6:8], v) }

func (f Frame) SetNextMTU(v uint16) { binary.BigEndian.PutUint16(f.buf[6:8], v) }

// Payload returns the bytes after the 8-byte header: echo data, or the
// quoted-original-packet data area for error messages.
func (f Frame) Payload() []byte { return f.buf[HeaderSize:] }

func (f Frame) Raw() []byte { return f.buf }

// RecomputeChecksum zeroes the checksum field, recomputes the one's
// complement sum over the entire ICMP message (header+payload), and stores
// it.
func (f Frame) RecomputeChecksum() {
	binary.BigEndian.PutUint16(f.buf[2:4], 0)
	binary.BigEndian.PutUint16(f.buf[2:4], checksum.Sum16(f.buf))
}

// ValidateChecksum recomputes the checksum with the field zeroed and
// compares it to the stored value.
func (f Frame) ValidateChecksum() bool {
	return checksum.Verify(f.buf, 2)
}

// BuildEchoReply turns buf (an inbound ICMP Echo Request body, without
// IP header) into an Echo Reply in place, preserving id/seq/data and
// recomputing the checksum. The caller supplies a buffer at least as large
// as the request.
func BuildEchoReply(buf []byte) (Frame, error) {
	f, err := NewFrame(buf)
	if err != nil {
		return Frame{}, err
	}
	f.SetType(TypeEchoReply)
	f.SetCode(CodeEchoReply)
	f.RecomputeChecksum()
	return f, nil
}

// BuildError constructs a Destination Unreachable or Time Exceeded message
// into buf (which must be at least HeaderSize+DataSize bytes), quoting the
// first DataSize bytes of originalIPPacket (IP header + leading payload).
func BuildError(buf []byte, typ Type, code Code, originalIPPacket []byte) (Frame, error) {
	if len(buf) < HeaderSize+DataSize {
		return Frame{}, fmt.Errorf("icmp: buffer too small for error message (%d < %d)", len(buf), HeaderSize+DataSize)
	}
	f, err := NewFrame(buf[:HeaderSize+DataSize])
	if err != nil {
		return Frame{}, err
	}
	f.SetType(typ)
	f.SetCode(code)
	binary.BigEndian.PutUint32(f.buf[4:8], 0) // unused / next_mtu, left zero here
	n := copy(f.Payload(), originalIPPacket)
	for ; n < DataSize; n++ {
		f.Payload()[n] = 0
	}
	f.RecomputeChecksum()
	return f, nil
}
