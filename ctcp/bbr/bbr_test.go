package bbr_test

import (
	"testing"
	"time"

	"github.com/gopherlab/vnet/ctcp/bbr"
)

func TestStartsInStartup(t *testing.T) {
	c := bbr.New(1, 1440, 4096, nil)
	if c.Mode() != bbr.ModeStartup {
		t.Fatalf("expected Startup, got %s", c.Mode())
	}
}

func TestSustainedBandwidthGrowthStaysInStartup(t *testing.T) {
	c := bbr.New(1, 1440, 4096, nil)
	bw := 1000.0
	for i := 0; i < 10; i++ {
		acked := int(bw)
		c.OnAck(acked, time.Millisecond*100)
		bw *= 1.5
	}
	if c.Mode() != bbr.ModeStartup {
		t.Fatalf("expected to stay in Startup while bandwidth keeps growing by at least 1.25x per round, got %s", c.Mode())
	}
}

func TestFlatBandwidthReachesFullBWAndDrains(t *testing.T) {
	c := bbr.New(1, 1440, 4096, nil)
	for i := 0; i < 3+2; i++ {
		c.OnAck(1000, time.Millisecond*100)
	}
	if c.Mode() != bbr.ModeDrain && c.Mode() != bbr.ModeProbeBW {
		t.Fatalf("expected Drain or ProbeBW once full bandwidth plateaus, got %s", c.Mode())
	}
}

func TestFirstRTTSampleDoesNotEnterProbeRTT(t *testing.T) {
	c := bbr.New(1, 1440, 4096, nil)
	c.OnAck(1000, 50*time.Millisecond)
	if c.Mode() != bbr.ModeStartup {
		t.Fatalf("expected first sample to set the min RTT and stay in Startup, got %s", c.Mode())
	}
}

func TestSendWindowNeverBelowMinimum(t *testing.T) {
	const segSize = 1440
	c := bbr.New(1, segSize, 0, nil)
	const wantFloor = 4 * segSize // cwndMinPackets worth of segSize-sized packets
	if got := c.SendWindow(); got != wantFloor {
		t.Fatalf("expected send window floor of %d bytes (4 packets worth), got %d", wantFloor, got)
	}
}

func TestNewStartsInStartupAcrossConnectionIDs(t *testing.T) {
	seen := make(map[bbr.Mode]bool)
	for id := uint64(0); id < 8; id++ {
		c := bbr.New(id, 1440, 4096, nil)
		seen[c.Mode()] = true
	}
	// All start in Startup regardless of phase; this just exercises New
	// across a spread of connection IDs without panicking.
	if !seen[bbr.ModeStartup] {
		t.Fatal("expected at least one controller in Startup")
	}
}
