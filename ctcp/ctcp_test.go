package ctcp_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/gopherlab/vnet/ctcp"
	"github.com/jonboulle/clockwork"
)

type loopbackPeer struct {
	t      *testing.T
	other  *ctcp.Conn
}

func (p *loopbackPeer) SendSegment(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return p.other.Receive(cp)
}

func newPair(t *testing.T) (a, b *ctcp.Conn, sinkA, sinkB *bytes.Buffer) {
	sinkA = &bytes.Buffer{}
	sinkB = &bytes.Buffer{}
	a = ctcp.NewConn(nil, sinkA, 1, 1)
	b = ctcp.NewConn(nil, sinkB, 1, 1)
	a.Peer = &loopbackPeer{t: t, other: b}
	b.Peer = &loopbackPeer{t: t, other: a}
	return a, b, sinkA, sinkB
}

func TestSendDeliversPayloadInOrder(t *testing.T) {
	a, _, _, sinkB := newPair(t)
	if err := a.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if sinkB.String() != "hello" {
		t.Fatalf("expected %q delivered, got %q", "hello", sinkB.String())
	}
}

func TestReorderedSegmentsDeliverInSeqnoOrder(t *testing.T) {
	sink := &bytes.Buffer{}
	recv := ctcp.NewConn(nil, sink, 1, 1)
	sent := &capturingPeer{}
	recv.Peer = sent

	data := bytes.Repeat([]byte{0}, 1440)
	seg1, _ := ctcp.BuildSegment(make([]byte, ctcp.HeaderSize+1440), 1, 1, ctcp.FlagACK, 65535, withByte(data, 'A'))
	seg2, _ := ctcp.BuildSegment(make([]byte, ctcp.HeaderSize+1440), 1441, 1, ctcp.FlagACK, 65535, withByte(data, 'B'))
	seg3, _ := ctcp.BuildSegment(make([]byte, ctcp.HeaderSize+1440), 2881, 1, ctcp.FlagACK, 65535, withByte(data, 'C'))

	// Deliver out of order: 2881, 1, 1441.
	if err := recv.Receive(seg3.Raw()); err != nil {
		t.Fatal(err)
	}
	if err := recv.Receive(seg1.Raw()); err != nil {
		t.Fatal(err)
	}
	if err := recv.Receive(seg2.Raw()); err != nil {
		t.Fatal(err)
	}

	if sink.Len() != 4320 {
		t.Fatalf("expected 4320 bytes delivered, got %d", sink.Len())
	}
	got := sink.Bytes()
	if got[0] != 'A' || got[1440] != 'B' || got[2880] != 'C' {
		t.Fatalf("expected in-order concatenation A,B,C, got markers %c %c %c", got[0], got[1440], got[2880])
	}
	// 2881 arrives first but delivers nothing (buffered out of order, no
	// ACK sent); 1 delivers up through 1440 (one ACK); 1441 then cascades
	// straight through the buffered 2881 (one more ACK) for 2 total.
	if len(sent.acks) != 2 {
		t.Fatalf("expected exactly 2 cumulative acks, got %d", len(sent.acks))
	}
	lastAck, _ := ctcp.NewSegment(sent.acks[len(sent.acks)-1])
	if lastAck.Ackno() != 4321 {
		t.Fatalf("expected final ackno 4321, got %d", lastAck.Ackno())
	}
}

func TestTeardownDeliversExactlyOneEOFEachSide(t *testing.T) {
	a, b, sinkA, sinkB := newPair(t)
	_ = a.Send([]byte("x"))
	if err := a.SendEOF(); err != nil {
		t.Fatal(err)
	}
	if err := b.SendEOF(); err != nil {
		t.Fatal(err)
	}
	if !a.Done() {
		t.Fatal("expected A to have completed teardown")
	}
	if !b.Done() {
		t.Fatal("expected B to have completed teardown")
	}
	// sinkA/sinkB each receive one zero-byte EOF marker (no extra bytes
	// beyond payload already asserted by other tests); just confirm no
	// panic and that both finished a clean handshake.
	_ = sinkA
	_ = sinkB
}

func TestRetransmitResendsUnchangedSegmentIncludingFin(t *testing.T) {
	clk := clockwork.NewFakeClock()
	sent := &capturingPeer{}
	sink := &bytes.Buffer{}
	c := ctcp.NewConn(sent, sink, 100, 1)
	c.Clock = clk
	c.RTTimeout = time.Second

	if err := c.SendEOF(); err != nil {
		t.Fatal(err)
	}
	first := append([]byte(nil), sent.all[len(sent.all)-1]...)

	clk.Advance(2 * time.Second)
	c.Tick(clk.Now())

	if len(sent.all) != 2 {
		t.Fatalf("expected a retransmission, got %d total sends", len(sent.all))
	}
	if !bytes.Equal(first, sent.all[len(sent.all)-1]) {
		t.Fatal("retransmitted FIN segment must be byte-identical to the original, seqno included")
	}
}

func TestUnresponsivePeerGivesUpAfterMaxRetransmits(t *testing.T) {
	clk := clockwork.NewFakeClock()
	sent := &capturingPeer{}
	sink := &bytes.Buffer{}
	c := ctcp.NewConn(sent, sink, 100, 1)
	c.Clock = clk
	c.RTTimeout = time.Second

	if err := c.Send([]byte("x")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		clk.Advance(2 * time.Second)
		c.Tick(clk.Now())
	}
	if !c.Unresponsive() {
		t.Fatal("expected connection to be marked unresponsive after exhausting retransmits")
	}

	sends := len(sent.all)
	clk.Advance(2 * time.Second)
	c.Tick(clk.Now())
	if len(sent.all) != sends {
		t.Fatal("expected no further retransmits once unresponsive")
	}
}

type capturingPeer struct {
	all  [][]byte
	acks [][]byte
}

func (p *capturingPeer) SendSegment(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.all = append(p.all, cp)
	seg, err := ctcp.NewSegment(cp)
	if err == nil && seg.DataLen() == 0 {
		p.acks = append(p.acks, cp)
	}
	return nil
}

func withByte(base []byte, marker byte) []byte {
	out := append([]byte(nil), base...)
	out[0] = marker
	return out
}
