package ctcp

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gopherlab/vnet"
	"github.com/gopherlab/vnet/metrics"
	"github.com/jonboulle/clockwork"
)

// ErrWindowFull is returned by Send when the congestion/flow window has no
// room for more unacknowledged bytes.
var ErrWindowFull = errors.New("ctcp: send window full")

// maxRetransmits bounds how many times the head of unacked is resent before
// the peer is assumed gone.
const maxRetransmits = 5

// Peer transmits a fully-built segment toward the remote end.
type Peer interface {
	SendSegment(buf []byte) error
}

// CongestionController is C4: it observes ACKs and bounds how many bytes
// may be outstanding at once.
type CongestionController interface {
	OnSend(n int)
	OnAck(ackedBytes int, rtt time.Duration)
	SendWindow() int
}

type unackedSegment struct {
	seqno   uint32
	dataLen int
	raw     []byte // the exact bytes transmitted; retransmission resends this unchanged
	sentAt  time.Time
}

type unoutputEntry struct {
	seqno   uint32
	data    []byte
	fin     bool
}

// Conn is one cTCP connection: the per-connection state of §4 C1/C2/C3.
type Conn struct {
	Peer       Peer
	Sink       io.Writer // delivered application bytes (and the zero-byte EOF marker) land here
	RecvWindow uint16
	RTTimeout  time.Duration
	Congestion CongestionController
	Clock      clockwork.Clock
	Log        *slog.Logger
	Metrics    *metrics.Recorder

	sendSeqno uint32
	ackno     uint32

	unacked  []unackedSegment
	unoutput []unoutputEntry

	finSent     bool
	finAcked    bool
	finReceived bool
	finSeqno    uint32

	lastRetransmit  time.Time
	retransmitCount int
	unresponsive    bool
}

// NewConn constructs a connection with the given initial sequence numbers.
// initSeqno is the first seqno this side will assign; initAckno is the
// first byte expected from the peer.
func NewConn(peer Peer, sink io.Writer, initSeqno, initAckno uint32) *Conn {
	return &Conn{
		Peer:       peer,
		Sink:       sink,
		RecvWindow: 65535,
		RTTimeout:  time.Second,
		Congestion: FixedWindowController{Window: MaxSegData},
		Clock:      clockwork.NewRealClock(),
		Log:        slog.Default(),
		sendSeqno:  initSeqno,
		ackno:      initAckno,
	}
}

func (c *Conn) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// bytesInFlight is (last.seqno+last.datalen) - first.seqno per the unacked
// queue invariant, or 0 if nothing is outstanding.
func (c *Conn) bytesInFlight() int {
	if len(c.unacked) == 0 {
		return 0
	}
	first := c.unacked[0]
	last := c.unacked[len(c.unacked)-1]
	return int(last.seqno-first.seqno) + last.dataLen
}

// Send implements C2's data-segment path: len(data) must not exceed
// MaxSegData. Returns ErrWindowFull if the congestion/flow window has no
// room; the caller should retry once bytesInFlight drops (e.g. on the next
// ACK).
func (c *Conn) Send(data []byte) error {
	if len(data) == 0 {
		return errors.New("ctcp: Send requires a non-empty payload; use SendEOF for FIN")
	}
	if len(data) > MaxSegData {
		return errors.New("ctcp: Send payload exceeds MaxSegData")
	}
	if c.bytesInFlight()+len(data) > c.Congestion.SendWindow() {
		return ErrWindowFull
	}
	buf := make([]byte, HeaderSize+len(data))
	seg, err := BuildSegment(buf, c.sendSeqno, c.ackno, FlagACK, c.RecvWindow, data)
	if err != nil {
		return err
	}
	if err := c.Peer.SendSegment(seg.Raw()); err != nil {
		return err
	}
	c.unacked = append(c.unacked, unackedSegment{seqno: c.sendSeqno, dataLen: len(data), raw: seg.Raw(), sentAt: c.Clock.Now()})
	c.sendSeqno += uint32(len(data))
	c.lastRetransmit = c.Clock.Now()
	c.Congestion.OnSend(len(data))
	c.countSent()
	c.reportBytesInFlight()
	return nil
}

// SendEOF implements C2's FIN path: the application's read loop returned
// EOF. The FIN consumes exactly one sequence number; that seqno is fixed
// here and never recomputed, including on retransmission.
func (c *Conn) SendEOF() error {
	if c.finSent {
		return nil
	}
	buf := make([]byte, HeaderSize)
	seg, err := BuildSegment(buf, c.sendSeqno, c.ackno, FlagFIN, c.RecvWindow, nil)
	if err != nil {
		return err
	}
	// The FIN is recorded before it is handed to the peer, because a peer
	// that delivers synchronously may ACK it before SendSegment returns.
	c.finSeqno = c.sendSeqno
	c.unacked = append(c.unacked, unackedSegment{seqno: c.sendSeqno, dataLen: 1, raw: seg.Raw(), sentAt: c.Clock.Now()})
	c.sendSeqno++
	c.finSent = true
	if err := c.Peer.SendSegment(seg.Raw()); err != nil {
		if n := len(c.unacked); n > 0 && c.unacked[n-1].seqno == c.finSeqno {
			c.unacked = c.unacked[:n-1]
		}
		c.sendSeqno--
		c.finSent = false
		return err
	}
	c.lastRetransmit = c.Clock.Now()
	c.countSent()
	return nil
}

// Done reports whether teardown has completed on this side: our FIN was
// sent and acknowledged, and the peer's FIN was received.
func (c *Conn) Done() bool {
	return c.finSent && c.finAcked && c.finReceived
}

// Unresponsive reports whether the peer exhausted maxRetransmits without
// acknowledging the head of the send queue: the registry reaps such
// connections the same as ones that completed teardown normally.
func (c *Conn) Unresponsive() bool {
	return c.unresponsive
}

// Receive implements C3's seven-step receive pipeline.
func (c *Conn) Receive(buf []byte) error {
	seg, err := NewSegment(buf)
	if err != nil {
		return nil // too short to be a segment; drop
	}
	if !seg.ValidateChecksum() {
		c.logger().Debug("dropping corrupt ctcp segment")
		return nil
	}
	c.countRecv()

	hasPayload := seg.DataLen() > 0
	isFin := seg.Flags().HasAny(FlagFIN)

	// 2. Stale-segment handling.
	if seg.Seqno() < c.ackno {
		if hasPayload || isFin {
			c.sendPureACK()
		}
		return nil
	}

	// 3. Duplicate handling.
	for _, e := range c.unoutput {
		if e.seqno == seg.Seqno() {
			c.sendPureACK()
			return nil
		}
	}

	// 4. ACK processing.
	if seg.Flags().HasAny(FlagACK) {
		c.applyAck(seg.Ackno())
	}

	// 5. FIN detection (ackno not advanced here; delivered in order below).
	if isFin {
		c.finReceived = true
	}

	// 6. Insert into unoutput, ascending seqno, only if there's something to deliver.
	if hasPayload || isFin {
		data := make([]byte, len(seg.Payload()))
		copy(data, seg.Payload())
		c.insertUnoutput(unoutputEntry{seqno: seg.Seqno(), data: data, fin: isFin})
	}

	// 7. Output routine: a pure cumulative ACK is only warranted if
	// something was actually delivered to the application, not merely
	// because this segment carried a payload or FIN (it may have been
	// buffered out of order with nothing yet deliverable).
	if c.drainOutput() {
		c.sendPureACK()
	}
	return nil
}

func (c *Conn) applyAck(ackno uint32) {
	n := 0
	for n < len(c.unacked) && seqLess(c.unacked[n].seqno, ackno) {
		n++
	}
	if n > 0 {
		acked := c.unacked[:n]
		for _, a := range acked {
			rtt := c.Clock.Now().Sub(a.sentAt)
			c.Congestion.OnAck(a.dataLen, rtt)
		}
		c.unacked = c.unacked[n:]
		c.retransmitCount = 0
	}
	if c.finSent && !c.finAcked && seqLess(c.finSeqno, ackno) {
		c.finAcked = true
	}
	c.reportBytesInFlight()
}

func (c *Conn) reportBytesInFlight() {
	if c.Metrics != nil {
		c.Metrics.CTCPBytesInFlight.Set(float64(c.bytesInFlight()))
	}
}

func (c *Conn) insertUnoutput(e unoutputEntry) {
	i := 0
	for i < len(c.unoutput) && c.unoutput[i].seqno < e.seqno {
		i++
	}
	c.unoutput = append(c.unoutput, unoutputEntry{})
	copy(c.unoutput[i+1:], c.unoutput[i:])
	c.unoutput[i] = e
}

// drainOutput delivers every in-order buffered entry to Sink, advancing
// ackno as it goes. It reports whether anything was actually delivered,
// so callers know whether a cumulative ACK is warranted.
func (c *Conn) drainOutput() bool {
	delivered := false
	for len(c.unoutput) > 0 && c.unoutput[0].seqno == c.ackno {
		head := c.unoutput[0]
		c.unoutput = c.unoutput[1:]
		if len(head.data) > 0 {
			c.Sink.Write(head.data)
			c.ackno += uint32(len(head.data))
		}
		if head.fin {
			c.ackno++
			c.Sink.Write([]byte{})
		}
		delivered = true
	}
	return delivered
}

func (c *Conn) sendPureACK() {
	buf := make([]byte, HeaderSize)
	seg, err := BuildSegment(buf, c.sendSeqno, c.ackno, FlagACK, c.RecvWindow, nil)
	if err != nil {
		return
	}
	if err := c.Peer.SendSegment(seg.Raw()); err != nil {
		c.logger().Error("failed to send ack", "err", err)
	}
}

// Tick drives C2's stop-and-wait retransmission: if the head of unacked has
// aged past RTTimeout, it is resent unchanged (preserving its original
// seqno, FIN included).
func (c *Conn) Tick(now time.Time) {
	if c.unresponsive || len(c.unacked) == 0 {
		return
	}
	head := c.unacked[0]
	if now.Sub(head.sentAt) < c.RTTimeout {
		return
	}
	if err := c.Peer.SendSegment(head.raw); err != nil {
		c.logger().Error("retransmit failed", "err", err)
		return
	}
	c.unacked[0].sentAt = now
	c.lastRetransmit = now
	c.retransmitCount++
	c.countSent()
	if c.Metrics != nil {
		c.Metrics.CTCPRetransmits.Inc()
	}
	if c.retransmitCount >= maxRetransmits {
		c.unresponsive = true
		c.logger().Warn("giving up on connection", "err", vnet.Wrap("ctcp.Conn.Tick", vnet.KindPeerUnresponsive, nil))
	}
}

func (c *Conn) countSent() {
	if c.Metrics != nil {
		c.Metrics.CTCPSegmentsSent.Inc()
	}
}

func (c *Conn) countRecv() {
	if c.Metrics != nil {
		c.Metrics.CTCPSegmentsRecv.Inc()
	}
}

// seqLess compares sequence numbers with 32-bit wraparound semantics: a is
// "less than" b if the signed difference a-b is negative.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}
