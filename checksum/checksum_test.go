package checksum_test

import (
	"testing"

	"github.com/gopherlab/vnet/checksum"
)

func TestSum16KnownVector(t *testing.T) {
	// Classic IPv4 header checksum worked example (RFC 1071 §3).
	hdr := []byte{
		0x45, 0x00, 0x00, 0x3c,
		0x1c, 0x46, 0x40, 0x00,
		0x40, 0x06, 0x00, 0x00, // checksum field zeroed
		0xac, 0x10, 0x0a, 0x63,
		0xac, 0x10, 0x0a, 0x0c,
	}
	got := checksum.Sum16(hdr)
	const want = 0xb1e6
	if got != want {
		t.Fatalf("checksum = %#04x, want %#04x", got, want)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	hdr := []byte{
		0x45, 0x00, 0x00, 0x3c,
		0x1c, 0x46, 0x40, 0x00,
		0x40, 0x06, 0x00, 0x00,
		0xac, 0x10, 0x0a, 0x63,
		0xac, 0x10, 0x0a, 0x0c,
	}
	sum := checksum.Sum16(hdr)
	hdr[10] = byte(sum >> 8)
	hdr[11] = byte(sum)
	if !checksum.Verify(hdr, 10) {
		t.Fatal("verify should succeed with correctly stored checksum")
	}
	hdr[11] ^= 0xff
	if checksum.Verify(hdr, 10) {
		t.Fatal("verify should fail after corrupting checksum byte")
	}
}

func TestOddLengthAcrossWrites(t *testing.T) {
	whole := []byte{0x01, 0x02, 0x03}
	var want uint16
	{
		var a checksum.Accumulator
		a.Write(whole)
		want = a.Sum16()
	}
	var a checksum.Accumulator
	a.Write(whole[:1])
	a.Write(whole[1:])
	if got := a.Sum16(); got != want {
		t.Fatalf("split write sum = %#04x, want %#04x", got, want)
	}
}
