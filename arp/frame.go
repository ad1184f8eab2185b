// Package arp implements ARP for Ethernet/IPv4: the wire frame and the
// cache/request-coalescing engine described by R3.
package arp

import (
	"encoding/binary"
	"fmt"

	"github.com/gopherlab/vnet/ethernet"
)

// Size is the fixed size of an Ethernet/IPv4 ARP packet: hardware type(2),
// protocol type(2), hw len(1), proto len(1), operation(2), sender hw(6),
// sender proto(4), target hw(6), target proto(4).
const Size = 28

const (
	hardwareEthernet = 1
	protocolIPv4     = 0x0800
	hwLenEthernet    = 6
	protoLenIPv4     = 4
)

// Operation is the ARP opcode.
type Operation uint16

const (
	OpRequest Operation = 1
	OpReply   Operation = 2
)

func (o Operation) String() string {
	switch o {
	case OpRequest:
		return "request"
	case OpReply:
		return "reply"
	default:
		return fmt.Sprintf("Operation(%d)", uint16(o))
	}
}

// Frame is a parsed view over an Ethernet/IPv4 ARP packet in a borrowed
// slice.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf, requiring at least Size bytes and Ethernet/IPv4
// hardware/protocol fields.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < Size {
		return Frame{}, fmt.Errorf("arp: buffer shorter than packet (%d < %d)", len(buf), Size)
	}
	f := Frame{buf: buf}
	if f.hardwareType() != hardwareEthernet || f.protocolType() != protocolIPv4 ||
		f.buf[4] != hwLenEthernet || f.buf[5] != protoLenIPv4 {
		return Frame{}, fmt.Errorf("arp: only Ethernet/IPv4 ARP is supported")
	}
	return f, nil
}

func (f Frame) hardwareType() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }
func (f Frame) protocolType() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

func (f Frame) Operation() Operation     { return Operation(binary.BigEndian.Uint16(f.buf[6:8])) }
func (f Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(f.buf[6:8], uint16(op)) }

func (f Frame) SenderHardware() ethernet.Addr { return addr6(f.buf, 8) }
func (f Frame) SenderProto() [4]byte          { return addr4(f.buf, 14) }
func (f Frame) TargetHardware() ethernet.Addr { return addr6(f.buf, 18) }
func (f Frame) TargetProto() [4]byte          { return addr4(f.buf, 24) }

func (f Frame) SetSenderHardware(a ethernet.Addr) { copy(f.buf[8:14], a[:]) }
func (f Frame) SetSenderProto(a [4]byte)           { copy(f.buf[14:18], a[:]) }
func (f Frame) SetTargetHardware(a ethernet.Addr) { copy(f.buf[18:24], a[:]) }
func (f Frame) SetTargetProto(a [4]byte)           { copy(f.buf[24:28], a[:]) }

func (f Frame) Raw() []byte { return f.buf[:Size] }

// InitEthernetIPv4 stamps the fixed hardware/protocol type fields, required
// before any other accessor is meaningful on a fresh buffer.
func InitEthernetIPv4(buf []byte) Frame {
	binary.BigEndian.PutUint16(buf[0:2], hardwareEthernet)
	binary.BigEndian.PutUint16(buf[2:4], protocolIPv4)
	buf[4] = hwLenEthernet
	buf[5] = protoLenIPv4
	return Frame{buf: buf}
}

func (f Frame) String() string {
	return fmt.Sprintf("arp{op=%s sha=%s spa=%v tha=%s tpa=%v}",
		f.Operation(), f.SenderHardware(), f.SenderProto(), f.TargetHardware(), f.TargetProto())
}

func addr6(buf []byte, off int) (a ethernet.Addr) {
	copy(a[:], buf[off:off+6])
	return a
}

func addr4(buf []byte, off int) (a [4]byte) {
	copy(a[:], buf[off:off+4])
	return a
}
