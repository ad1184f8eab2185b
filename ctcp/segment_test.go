package ctcp_test

import (
	"testing"

	"github.com/gopherlab/vnet/ctcp"
)

func TestBuildSegmentChecksumRoundTrip(t *testing.T) {
	buf := make([]byte, ctcp.HeaderSize+5)
	seg, err := ctcp.BuildSegment(buf, 10, 20, ctcp.FlagACK, 4096, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !seg.ValidateChecksum() {
		t.Fatal("expected checksum to validate")
	}
	if seg.Seqno() != 10 || seg.Ackno() != 20 {
		t.Fatalf("seqno/ackno mismatch: %d/%d", seg.Seqno(), seg.Ackno())
	}
	if string(seg.Payload()) != "hello" {
		t.Fatalf("payload mismatch: %q", seg.Payload())
	}
	buf[0] ^= 0xff
	if seg.ValidateChecksum() {
		t.Fatal("expected corrupted segment to fail validation")
	}
}

func TestFlagsString(t *testing.T) {
	if (ctcp.FlagACK | ctcp.FlagFIN).String() != "[ACK,FIN]" {
		t.Fatalf("unexpected flags string: %s", (ctcp.FlagACK | ctcp.FlagFIN).String())
	}
}
