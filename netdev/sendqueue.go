package netdev

import (
	"encoding/binary"
	"sync"

	"github.com/gopherlab/vnet/internal"
)

// SendQueue buffers outbound frames for a Device behind a fixed-size ring,
// decoupling the router's fast in-process dispatch loop from a TAP write
// that might briefly stall under load. Frames are length-prefixed (2-byte
// big-endian length) so arbitrarily-sized writes interleave safely in the
// shared ring.
type SendQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	ring internal.Ring
	lenBuf [2]byte
	closed bool
}

// NewSendQueue allocates a queue backed by a ring of the given byte
// capacity. capacity should be a few times the link MTU to absorb bursts.
func NewSendQueue(capacity int) *SendQueue {
	q := &SendQueue{ring: internal.Ring{Buf: make([]byte, capacity)}}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue copies frame into the queue. Returns false if the ring has no
// room for frame plus its length prefix; callers should treat that as
// backpressure (count a drop) rather than block the caller.
func (q *SendQueue) Enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	need := 2 + len(frame)
	if q.ring.Free() < need {
		return false
	}
	binary.BigEndian.PutUint16(q.lenBuf[:], uint16(len(frame)))
	q.ring.Write(q.lenBuf[:])
	q.ring.Write(frame)
	q.cond.Signal()
	return true
}

// Dequeue blocks until a frame is available or the queue is closed, and
// returns it (owned by the caller) or false if the queue is drained and
// closed.
func (q *SendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.ring.Buffered() < 2 && !q.closed {
		q.cond.Wait()
	}
	if q.ring.Buffered() < 2 {
		return nil, false
	}
	var lenBuf [2]byte
	q.ring.ReadPeek(lenBuf[:])
	q.ring.ReadDiscard(2)
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	frame := make([]byte, n)
	q.ring.ReadPeek(frame)
	q.ring.ReadDiscard(n)
	return frame, true
}

// Close unblocks any pending Dequeue, draining further reads immediately.
func (q *SendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
