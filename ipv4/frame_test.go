package ipv4_test

import (
	"testing"

	"github.com/gopherlab/vnet/ipv4"
)

func buildHeader(t *testing.T) ipv4.Frame {
	t.Helper()
	buf := make([]byte, ipv4.MinHeaderSize+4)
	f, err := ipv4.NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	f.SetVersionAndIHL(5)
	f.SetTotalLength(uint16(len(buf)))
	f.SetTTL(64)
	f.SetProtocol(ipv4.ProtocolICMP)
	f.SetSource([4]byte{10, 0, 1, 2})
	f.SetDestination([4]byte{10, 0, 1, 1})
	return f
}

func TestRecomputeChecksumVerifies(t *testing.T) {
	f := buildHeader(t)
	f.RecomputeChecksum()
	if err := f.ValidateChecksum(); err != nil {
		t.Fatalf("checksum should validate: %v", err)
	}
	f.Raw()[0] ^= 0x01 // corrupt version/IHL byte
	if err := f.ValidateChecksum(); err == nil {
		t.Fatal("expected checksum mismatch after corruption")
	}
}

func TestValidateExceptCRCRejectsBadVersion(t *testing.T) {
	f := buildHeader(t)
	f.SetVersionAndIHL(5)
	f.Raw()[0] = 0x55 // version 5
	if err := f.ValidateExceptCRC(); err == nil {
		t.Fatal("expected version mismatch error")
	}
}

func TestDecrementTTL(t *testing.T) {
	f := buildHeader(t)
	f.SetTTL(1)
	if got := f.DecrementTTL(); got != 0 {
		t.Fatalf("DecrementTTL = %d, want 0", got)
	}
}
