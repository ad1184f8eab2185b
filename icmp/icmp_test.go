package icmp_test

import (
	"testing"

	"github.com/gopherlab/vnet/icmp"
)

func TestBuildEchoReplyPreservesIDAndSeq(t *testing.T) {
	buf := make([]byte, icmp.HeaderSize+4)
	req, err := icmp.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	req.SetType(icmp.TypeEcho)
	req.SetCode(icmp.CodeEcho)
	req.SetEchoID(1234)
	req.SetEchoSeq(7)
	copy(req.Payload(), []byte{1, 2, 3, 4})

	reply, err := icmp.BuildEchoReply(buf)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type() != icmp.TypeEchoReply || reply.Code() != icmp.CodeEchoReply {
		t.Fatalf("unexpected type/code: %s/%d", reply.Type(), reply.Code())
	}
	if reply.EchoID() != 1234 || reply.EchoSeq() != 7 {
		t.Fatalf("echo id/seq not preserved: id=%d seq=%d", reply.EchoID(), reply.EchoSeq())
	}
	if !reply.ValidateChecksum() {
		t.Fatal("reply checksum should validate")
	}
}

func TestBuildErrorQuotesOriginalPacket(t *testing.T) {
	original := make([]byte, 40)
	for i := range original {
		original[i] = byte(i)
	}
	buf := make([]byte, icmp.HeaderSize+icmp.DataSize)
	f, err := icmp.BuildError(buf, icmp.TypeDestUnreachable, icmp.CodePortUnreachable, original)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type() != icmp.TypeDestUnreachable || f.Code() != icmp.CodePortUnreachable {
		t.Fatalf("unexpected type/code")
	}
	for i := 0; i < icmp.DataSize; i++ {
		if f.Payload()[i] != original[i] {
			t.Fatalf("quoted byte %d = %d, want %d", i, f.Payload()[i], original[i])
		}
	}
	if !f.ValidateChecksum() {
		t.Fatal("error message checksum should validate")
	}
}
