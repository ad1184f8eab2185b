package ethernet_test

import (
	"testing"

	"github.com/gopherlab/vnet/ethernet"
)

func TestFrameAccessorsRoundTrip(t *testing.T) {
	buf := make([]byte, ethernet.HeaderSize+4)
	f, err := ethernet.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	dst := ethernet.Addr{0xaa, 0, 0, 0, 0, 0x01}
	src := ethernet.Addr{0xbb, 0, 0, 0, 0, 0x01}
	f.SetDestination(dst)
	f.SetSource(src)
	f.SetEtherType(ethernet.EtherTypeIPv4)

	if f.Destination() != dst || f.Source() != src {
		t.Fatalf("addr round trip failed: dst=%s src=%s", f.Destination(), f.Source())
	}
	if f.EtherType() != ethernet.EtherTypeIPv4 {
		t.Fatalf("ethertype round trip failed: got %s", f.EtherType())
	}

	f.SwapAddrs()
	if f.Destination() != src || f.Source() != dst {
		t.Fatal("SwapAddrs did not exchange src/dst")
	}
}

func TestNewFrameRejectsShortBuffer(t *testing.T) {
	if _, err := ethernet.NewFrame(make([]byte, 13)); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestBroadcast(t *testing.T) {
	if !ethernet.Broadcast.IsBroadcast() {
		t.Fatal("Broadcast.IsBroadcast() should be true")
	}
	var zero ethernet.Addr
	if zero.IsBroadcast() {
		t.Fatal("zero address must not read as broadcast")
	}
}
