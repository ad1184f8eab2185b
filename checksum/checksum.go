// Package checksum implements the one's-complement 16-bit checksum shared by
// IPv4 headers and cTCP segments.
package checksum

import "encoding/binary"

// Accumulator computes a one's-complement 16-bit checksum over a byte stream
// fed in arbitrary-sized chunks. The zero value is ready to use.
type Accumulator struct {
	sum uint32
	odd bool // true if a trailing odd byte from a previous Write is pending
	lb  byte
}

// Write folds b into the running sum. It may be called repeatedly with
// differently-sized slices; an odd byte count is handled correctly across
// calls by carrying the dangling byte to the next Write.
func (a *Accumulator) Write(b []byte) {
	if a.odd && len(b) > 0 {
		a.sum += uint32(a.lb)<<8 | uint32(b[0])
		b = b[1:]
		a.odd = false
	}
	for len(b) >= 2 {
		a.sum += uint32(binary.BigEndian.Uint16(b))
		b = b[2:]
	}
	if len(b) == 1 {
		a.lb = b[0]
		a.odd = true
	}
}

// Sum16 folds the 32-bit accumulator into the final one's-complement 16-bit
// checksum, including any pending odd trailing byte.
func (a *Accumulator) Sum16() uint16 {
	sum := a.sum
	if a.odd {
		sum += uint32(a.lb) << 8
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	v := ^uint16(sum)
	if v == 0 {
		// A zero checksum is reserved to mean "no checksum" on the wire for
		// some protocols; IPv4/cTCP always store the non-zero complement.
		v = 0xffff
	}
	return v
}

// Reset zeroes the accumulator for reuse.
func (a *Accumulator) Reset() { *a = Accumulator{} }

// Sum16 is a convenience one-shot checksum over a single buffer.
func Sum16(b []byte) uint16 {
	var a Accumulator
	a.Write(b)
	return a.Sum16()
}

// Verify recomputes the checksum of b with the 16 bits at offset
// checksumOffset treated as zero, and reports whether it equals the value
// actually stored there.
func Verify(b []byte, checksumOffset int) bool {
	if checksumOffset < 0 || checksumOffset+2 > len(b) {
		return false
	}
	stored := binary.BigEndian.Uint16(b[checksumOffset:])
	var a Accumulator
	a.Write(b[:checksumOffset])
	a.Write([]byte{0, 0})
	a.Write(b[checksumOffset+2:])
	return a.Sum16() == stored
}

// PseudoHeaderIPv4 folds the IPv4 pseudo-header used by TCP/UDP-style
// upper-layer checksums (source, destination, zero byte, protocol, length).
func (a *Accumulator) PseudoHeaderIPv4(src, dst [4]byte, protocol uint8, upperLen uint16) {
	a.Write(src[:])
	a.Write(dst[:])
	a.Write([]byte{0, protocol})
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], upperLen)
	a.Write(lenBuf[:])
}
