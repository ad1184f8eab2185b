package arp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gopherlab/vnet/ethernet"
	"github.com/jonboulle/clockwork"
)

// TTL is how long a resolved mapping stays valid before lazy expiry.
const TTL = 15 * time.Second

// RetryInterval is the spacing between ARP request retransmissions.
const RetryInterval = 1 * time.Second

// MaxRetries is the number of requests sent before giving up (request #6 is
// never sent; on the 5th miss the pending request is torn down).
const MaxRetries = 5

// PendingPacket is an owned copy of a packet waiting on address resolution,
// queued by R2 when a forwarding lookup misses the cache.
type PendingPacket struct {
	Buf   []byte // owned copy of the full outbound Ethernet frame built so far
	Iface string // outgoing interface this packet was destined for
}

type entry struct {
	mac       ethernet.Addr
	insertedAt time.Time
}

type pendingRequest struct {
	targetIP   [4]byte
	lastSent   time.Time
	retryCount int
	queue      []PendingPacket
}

// RetryAction tells the caller to (re)transmit a broadcast ARP request.
type RetryAction struct {
	TargetIP [4]byte
	Iface    string
}

// Unreachable carries a packet whose resolution exhausted its retries, for
// the caller to turn into an ICMP Host Unreachable.
type Unreachable struct {
	TargetIP [4]byte
	Packet   PendingPacket
}

// Cache implements R3: IPv4->Ethernet resolution with request coalescing,
// retry, and timeout. All cache and pending-request state is guarded by a
// single mutex, matching the two-thread model of §5: the frame-dispatch
// thread calls Lookup/Queue/HandleReply, and a 1 Hz timeout
// thread calls Tick.
type Cache struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	log     *slog.Logger
	entries map[[4]byte]entry
	pending map[[4]byte]*pendingRequest
}

// NewCache constructs an empty cache. clock defaults to the real wall clock
// if nil; tests inject a clockwork.FakeClock to control retry timing
// without sleeping.
func NewCache(clock clockwork.Clock, log *slog.Logger) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		clock:   clock,
		log:     log,
		entries: make(map[[4]byte]entry),
		pending: make(map[[4]byte]*pendingRequest),
	}
}

// Lookup resolves ip to a MAC address. Entries older than TTL are treated
// as absent (lazy expiry) and removed.
func (c *Cache) Lookup(ip [4]byte) (ethernet.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ip]
	if !ok {
		return ethernet.Addr{}, false
	}
	if c.clock.Now().Sub(e.insertedAt) >= TTL {
		delete(c.entries, ip)
		return ethernet.Addr{}, false
	}
	return e.mac, true
}

// Queue enqueues pkt on the pending request for ip, creating one if absent.
// The at-most-one-pending-request-per-IP invariant is enforced by the map
// key. Returns true if this call created a brand new pending request (the
// caller may wish to send the first ARP request immediately instead of
// waiting for the next tick — optional, Tick will catch it within
// RetryInterval regardless).
func (c *Cache) Queue(ip [4]byte, pkt PendingPacket) (isNew bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.pending[ip]
	if !ok {
		req = &pendingRequest{targetIP: ip}
		c.pending[ip] = req
		isNew = true
	}
	req.queue = append(req.queue, pkt)
	return isNew
}

// HandleReply processes an inbound ARP reply. Per the gratuitous-reply
// guard, it is only accepted (cache updated, pending request drained) when
// replyTargetIP equals the IP of the interface that received it; replies
// addressed to other hosts, merely overheard, are ignored. On acceptance
// the cache lock is held for the duration of the drain so no concurrent
// request for the same IP can be created mid-drain.
func (c *Cache) HandleReply(receivingIfaceIP [4]byte, senderIP [4]byte, senderMAC ethernet.Addr, replyTargetIP [4]byte) (drained []PendingPacket, accepted bool) {
	if replyTargetIP != receivingIfaceIP {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[senderIP] = entry{mac: senderMAC, insertedAt: c.clock.Now()}
	req, ok := c.pending[senderIP]
	if !ok {
		return nil, true
	}
	delete(c.pending, senderIP)
	return req.queue, true
}

// Tick drives the periodic ARP retry/timeout logic. It should be called
// once per second. It returns the set of ARP requests to (re)transmit and
// the set of queued packets that must be answered with ICMP Host
// Unreachable because their request exhausted MaxRetries.
func (c *Cache) Tick() (retries []RetryAction, unreachables []Unreachable) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for ip, req := range c.pending {
		if now.Sub(req.lastSent) < RetryInterval {
			continue
		}
		if req.retryCount >= MaxRetries {
			for _, pkt := range req.queue {
				unreachables = append(unreachables, Unreachable{TargetIP: ip, Packet: pkt})
			}
			delete(c.pending, ip)
			c.log.Debug("arp request exhausted retries", "target", ip)
			continue
		}
		iface := ""
		if len(req.queue) > 0 {
			iface = req.queue[0].Iface
		}
		req.lastSent = now
		req.retryCount++
		retries = append(retries, RetryAction{TargetIP: ip, Iface: iface})
	}
	return retries, unreachables
}

// RunTimeoutLoop ticks the cache once per second until ctx is done,
// invoking onRetry/onUnreachable for each batch. It is the long-running
// half of the two-thread model in §5; cmd/ wires it to a background
// goroutine.
func (c *Cache) RunTimeoutLoop(ctx context.Context, onRetry func(RetryAction), onUnreachable func(Unreachable)) {
	ticker := c.clock.NewTicker(RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			retries, unreachables := c.Tick()
			for _, r := range retries {
				onRetry(r)
			}
			for _, u := range unreachables {
				onUnreachable(u)
			}
		}
	}
}

// Size reports the number of stored cache entries (including expired ones
// not yet removed) and the number of outstanding pending requests, for
// metrics.
func (c *Cache) Size() (entries int, pendingCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), len(c.pending)
}
