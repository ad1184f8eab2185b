package ctcp

import "time"

// FixedWindowController is the stop-and-wait baseline: a constant window
// regardless of ACK timing, so at most Window bytes are ever outstanding.
// Setting Window to MaxSegData reproduces true stop-and-wait (one segment
// in flight at a time).
type FixedWindowController struct {
	Window int
}

func (f FixedWindowController) OnSend(n int) {}

func (f FixedWindowController) OnAck(ackedBytes int, rtt time.Duration) {}

func (f FixedWindowController) SendWindow() int { return f.Window }
