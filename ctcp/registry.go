package ctcp

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// defaultTickInterval is how often Run drives retransmission checks.
const defaultTickInterval = 100 * time.Millisecond

// Registry is C1: the set of live connections, ticked periodically to
// drive stop-and-wait retransmission and teardown across all of them.
type Registry struct {
	mu    sync.Mutex
	clock clockwork.Clock
	conns map[uint64]*Conn
	nextID uint64
}

// NewRegistry constructs an empty registry. clock defaults to the real
// wall clock if nil.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{clock: clock, conns: make(map[uint64]*Conn)}
}

// Add registers conn and returns a handle used to remove it later.
func (r *Registry) Add(conn *Conn) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.conns[id] = conn
	return id
}

// Remove unregisters the connection with the given handle.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Tick drives retransmission on every live connection and reaps those that
// have completed teardown (see Conn.Done).
func (r *Registry) Tick() {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		conn.Tick(now)
		if conn.Done() || conn.Unresponsive() {
			delete(r.conns, id)
		}
	}
}

// Run ticks the registry at defaultTickInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(defaultTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Tick()
		}
	}
}

// Len reports the number of live connections, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
