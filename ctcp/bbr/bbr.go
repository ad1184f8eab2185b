// Package bbr implements the BBR-style congestion controller of C4: a
// state machine that paces around an estimated bottleneck bandwidth and
// periodically probes for the path's minimum RTT.
package bbr

import (
	"crypto/sha256"
	"io"
	"log/slog"
	"time"

	"github.com/gopherlab/vnet/metrics"
	"golang.org/x/crypto/hkdf"
)

// Mode is one of the four BBR phases.
type Mode int

const (
	ModeStartup Mode = iota
	ModeDrain
	ModeProbeBW
	ModeProbeRTT
)

func (m Mode) String() string {
	switch m {
	case ModeStartup:
		return "Startup"
	case ModeDrain:
		return "Drain"
	case ModeProbeBW:
		return "ProbeBW"
	case ModeProbeRTT:
		return "ProbeRTT"
	default:
		return "Unknown"
	}
}

const (
	cycleLen       = 8
	bwFilterLen    = cycleLen + 2
	rttFilterLen   = 10
	probeRTTDur    = 200 * time.Millisecond
	minRTTWindow   = 10 * time.Second
	fullBWThresh   = 1.25
	fullBWRounds   = 3
	cwndMinPackets = 4
)

// highGain lets the pacing rate double each round during Startup, filling
// the pipe as fast as un-paced slow-start would: 2/ln(2).
//
// 2885/1000 and 1000/2885 truncated to integers (2 and 0) upstream; used as
// float literals here so Startup and Drain actually use distinct gains.
const (
	highGain  = 2.885
	drainGain = 1 / highGain
	cwndGain  = 2.0
)

// pacingGainCycle is PROBE_BW's 8-phase gain cycle: one phase above 1 to
// probe for more bandwidth, one below 1 to drain the queue it created, six
// at steady state.
var pacingGainCycle = [cycleLen]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

// Controller is a per-connection BBR state machine implementing
// ctcp.CongestionController.
type Controller struct {
	clock   func() time.Time
	log     *slog.Logger
	metrics *metrics.Recorder

	mode       Mode
	pacingGain float64
	cwndGain   float64

	btlbw       float64 // bytes/sec
	btlbwFilter [bwFilterLen]float64

	minRTT       time.Duration
	minRTTStamp  time.Time
	rttFilter    [rttFilterLen]time.Duration

	cycleIdx int

	fullBW      float64
	fullBWCount int

	segSize int // bytes per packet, for the cwndMinPackets floor

	cwnd        int // bytes
	inflight    int
	priorCwnd   int
	restoreCwnd bool

	probeRTTDoneAt time.Time
}

// New constructs a Controller seeded from connID (any value unique enough
// to vary the PROBE_BW entry phase across connections, e.g. the initial
// seqno), the peer's maximum segment size in bytes (used to express
// cwndMinPackets as an actual byte floor), and an initial congestion
// window in bytes.
func New(connID uint64, segSize, initialCwnd int, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		clock:   time.Now,
		log:     log,
		mode:    ModeStartup,
		segSize: segSize,
		cwnd:    initialCwnd,
		btlbw:   float64(initialCwnd),
		minRTT:  -1,
	}
	for i := range c.rttFilter {
		c.rttFilter[i] = time.Duration(1<<62 - 1)
	}
	c.resetStartupMode()
	c.cycleIdx = entryPhase(connID)
	return c
}

// SetMetrics attaches a Recorder whose BBR gauges are updated on every
// OnAck call. Passing nil detaches metrics reporting.
func (c *Controller) SetMetrics(m *metrics.Recorder) { c.metrics = m }

func (c *Controller) reportMetrics() {
	if c.metrics == nil {
		return
	}
	for _, m := range []Mode{ModeStartup, ModeDrain, ModeProbeBW, ModeProbeRTT} {
		v := 0.0
		if m == c.mode {
			v = 1
		}
		c.metrics.BBRMode.WithLabelValues(m.String()).Set(v)
	}
	c.metrics.BBRCwnd.Set(float64(c.cwnd))
	c.metrics.BBRPacingGain.Set(c.pacingGain)
}

// entryPhase derives a pseudo-random PROBE_BW starting phase in [1,cycleLen)
// from connID via HKDF, so concurrent connections don't all probe bandwidth
// in lockstep.
func entryPhase(connID uint64) int {
	seed := []byte{
		byte(connID >> 56), byte(connID >> 48), byte(connID >> 40), byte(connID >> 32),
		byte(connID >> 24), byte(connID >> 16), byte(connID >> 8), byte(connID),
	}
	r := hkdf.New(sha256.New, seed, nil, []byte("ctcp-bbr-probe-bw-phase"))
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0
	}
	return cycleLen - 1 - int(b[0])%7
}

func (c *Controller) fullBWReached() bool { return c.fullBWCount >= fullBWRounds }

// OnAck feeds one round's delivery sample into the model: ackedBytes bytes
// were newly acknowledged, observed over rtt.
func (c *Controller) OnAck(ackedBytes int, rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	c.inflight -= ackedBytes
	if c.inflight < 0 {
		c.inflight = 0
	}
	bwSample := float64(ackedBytes) / rtt.Seconds()

	c.updateBW(bwSample)
	c.updateCyclePhase()
	c.checkFullBWReached()
	c.checkDrain()
	c.updateMinRTT(rtt)

	c.setPacingCwnd()
	c.reportMetrics()
}

// OnSend records bytes placed in flight, for the inflight-vs-cwnd
// comparisons used by checkDrain and SendWindow.
func (c *Controller) OnSend(n int) { c.inflight += n }

// cwndMinBytes is bbr_cwnd_min_target (cwndMinPackets) expressed in bytes:
// the smallest window BBR will ever pace at, regardless of a momentarily
// tiny bandwidth-delay product estimate.
func (c *Controller) cwndMinBytes() int {
	return cwndMinPackets * c.segSize
}

func (c *Controller) setPacingCwnd() {
	w := int(c.btlbw * c.minRTT.Seconds() * c.cwndGain)
	if min := c.cwndMinBytes(); w < min {
		w = min
	}
	c.cwnd = w
}

// SendWindow returns the current congestion window in bytes.
func (c *Controller) SendWindow() int {
	if min := c.cwndMinBytes(); c.cwnd < min {
		return min
	}
	return c.cwnd
}

// Mode reports the current BBR phase, for diagnostics/metrics.
func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) updateBW(bwSample float64) {
	c.btlbw = bwSample
	for i := 0; i < bwFilterLen-1; i++ {
		c.btlbwFilter[i] = c.btlbwFilter[i+1]
		if c.btlbw < c.btlbwFilter[i] {
			c.btlbw = c.btlbwFilter[i]
		}
	}
	c.btlbwFilter[bwFilterLen-1] = bwSample
}

func (c *Controller) updateCyclePhase() {
	if c.mode == ModeProbeBW {
		c.advanceCyclePhase()
	}
}

func (c *Controller) advanceCyclePhase() {
	c.cycleIdx = (c.cycleIdx + 1) % cycleLen
	c.pacingGain = pacingGainCycle[c.cycleIdx]
}

func (c *Controller) checkFullBWReached() {
	if c.fullBWReached() {
		return
	}
	threshold := c.fullBW * fullBWThresh
	if c.btlbw >= threshold {
		c.fullBW = c.btlbw
		c.fullBWCount = 0
		return
	}
	c.fullBWCount++
}

func (c *Controller) checkDrain() {
	if c.mode == ModeStartup && c.fullBWReached() {
		c.mode = ModeDrain
		c.pacingGain = drainGain
		c.cwndGain = highGain
	}
	if c.mode == ModeDrain && c.inflight <= c.cwnd {
		c.resetProbeBWMode()
	}
}

// updateMinRTT maintains a proper time-windowed minimum: the filter holds
// the smallest RTT observed in the last minRTTWindow, which only "expires"
// and forces a re-probe once that window has actually elapsed with no
// fresh low sample — not merely because the latest sample happened to be
// larger than the previous minimum (a larger single sample is completely
// normal and must not, by itself, invalidate an otherwise-fresh estimate).
func (c *Controller) updateMinRTT(rttSample time.Duration) {
	now := c.clock()
	noSample := c.minRTT < 0
	expired := !noSample && now.Sub(c.minRTTStamp) > minRTTWindow

	if noSample || expired || rttSample <= c.minRTT {
		c.minRTT = rttSample
		c.minRTTStamp = now
	}

	if expired && c.mode != ModeProbeRTT {
		c.mode = ModeProbeRTT
		c.pacingGain = 1
		c.cwndGain = 1
		c.saveCwnd()
		c.probeRTTDoneAt = now.Add(probeRTTDur)
	}

	if c.mode == ModeProbeRTT && !now.Before(c.probeRTTDoneAt) {
		c.resetMode()
		if c.restoreCwnd {
			if c.cwnd < c.priorCwnd {
				c.cwnd = c.priorCwnd
			}
			c.restoreCwnd = false
		}
	}
}

func (c *Controller) resetStartupMode() {
	c.mode = ModeStartup
	c.pacingGain = highGain
	c.cwndGain = highGain
}

func (c *Controller) resetProbeBWMode() {
	c.mode = ModeProbeBW
	c.pacingGain = 1
	c.cwndGain = cwndGain
}

func (c *Controller) resetMode() {
	if !c.fullBWReached() {
		c.resetStartupMode()
	} else {
		c.resetProbeBWMode()
	}
}

func (c *Controller) saveCwnd() {
	c.priorCwnd = c.cwnd
	c.restoreCwnd = true
}
