// Package ethernet implements the Ethernet II frame header: a parsed view
// over a borrowed byte slice, not a raw memory overlay, so every field
// access goes through an accessor that handles network byte order.
package ethernet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of an Ethernet II header: destination (6),
// source (6), ethertype (2). 802.1Q tagging is out of scope.
const HeaderSize = 14

// EtherType identifies the payload protocol carried by a frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
)

func (e EtherType) String() string {
	switch e {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("EtherType(%#04x)", uint16(e))
	}
}

// Addr is a 6-byte MAC address.
type Addr [6]byte

// Broadcast is the all-ones link-layer broadcast address.
var Broadcast = Addr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a Addr) IsBroadcast() bool { return a == Broadcast }

var errShortFrame = errors.New("ethernet: frame shorter than header")

// Frame is a parsed view over an Ethernet II frame stored in a borrowed byte
// slice. It performs no copies; callers that need to retain data past the
// lifetime of the underlying buffer must copy it themselves.
type Frame struct {
	buf []byte
}

// NewFrame validates buf is at least HeaderSize bytes and returns a Frame
// wrapping it.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

// RawFrame wraps buf without validating its length; used by callers that
// sized buf themselves (e.g. the router when it builds replies and
// forwarded frames). ValidateSize can check the length afterwards.
func RawFrame(buf []byte) Frame { return Frame{buf: buf} }

// ValidateSize reports whether the wrapped buffer is at least HeaderSize.
func (f Frame) ValidateSize() error {
	if len(f.buf) < HeaderSize {
		return errShortFrame
	}
	return nil
}

func (f Frame) Destination() Addr { return addrAt(f.buf, 0) }
func (f Frame) Source() Addr      { return addrAt(f.buf, 6) }

func (f Frame) SetDestination(a Addr) { copy(f.buf[0:6], a[:]) }
func (f Frame) SetSource(a Addr)      { copy(f.buf[6:12], a[:]) }

func (f Frame) EtherType() EtherType {
	return EtherType(binary.BigEndian.Uint16(f.buf[12:14]))
}

func (f Frame) SetEtherType(et EtherType) {
	binary.BigEndian.PutUint16(f.buf[12:14], uint16(et))
}

// Payload returns the bytes following the 14-byte header.
func (f Frame) Payload() []byte { return f.buf[HeaderSize:] }

// Raw returns the entire wrapped buffer, header included.
func (f Frame) Raw() []byte { return f.buf }

// SwapAddrs exchanges destination and source, used when turning a received
// frame into its reply in place (e.g. synthesizing an ICMP echo reply).
func (f Frame) SwapAddrs() {
	var tmp Addr
	copy(tmp[:], f.buf[0:6])
	copy(f.buf[0:6], f.buf[6:12])
	copy(f.buf[6:12], tmp[:])
}

func (f Frame) String() string {
	return fmt.Sprintf("eth{dst=%s src=%s type=%s}", f.Destination(), f.Source(), f.EtherType())
}

func addrAt(buf []byte, off int) (a Addr) {
	copy(a[:], buf[off:off+6])
	return a
}
