package arp_test

import (
	"testing"
	"time"

	"github.com/gopherlab/vnet/arp"
	"github.com/gopherlab/vnet/ethernet"
	"github.com/jonboulle/clockwork"
)

func TestLookupExpiresAfterTTL(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c := arp.NewCache(clk, nil)
	ip := [4]byte{10, 0, 2, 254}
	mac := ethernet.Addr{0xcc, 0, 0, 0, 0, 0xfe}
	c.HandleReply(ip, ip, mac, ip) // receiving-iface IP, sender IP, sender MAC, reply target IP all equal ip here
	if _, ok := c.Lookup(ip); !ok {
		t.Fatal("expected entry to be present immediately after insertion")
	}
	clk.Advance(arp.TTL + time.Second)
	if _, ok := c.Lookup(ip); ok {
		t.Fatal("expected entry to be expired after TTL")
	}
}

func TestQueueCoalescesIntoOnePendingRequest(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c := arp.NewCache(clk, nil)
	ip := [4]byte{10, 0, 2, 254}
	isNew1 := c.Queue(ip, arp.PendingPacket{Buf: []byte("a"), Iface: "eth1"})
	isNew2 := c.Queue(ip, arp.PendingPacket{Buf: []byte("b"), Iface: "eth1"})
	if !isNew1 {
		t.Fatal("first Queue call should report a new pending request")
	}
	if isNew2 {
		t.Fatal("second Queue call for same IP should coalesce, not create a new request")
	}
}

func TestHandleReplyGratuitousGuard(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c := arp.NewCache(clk, nil)
	ourIP := [4]byte{10, 0, 1, 1}
	otherIP := [4]byte{10, 0, 1, 9}
	senderIP := [4]byte{10, 0, 1, 2}
	mac := ethernet.Addr{0xaa, 0, 0, 0, 0, 0x01}

	_, accepted := c.HandleReply(ourIP, senderIP, mac, otherIP)
	if accepted {
		t.Fatal("reply addressed to another host must be ignored")
	}
	if _, ok := c.Lookup(senderIP); ok {
		t.Fatal("cache must not be updated by an ignored reply")
	}

	_, accepted = c.HandleReply(ourIP, senderIP, mac, ourIP)
	if !accepted {
		t.Fatal("reply addressed to us must be accepted")
	}
	if _, ok := c.Lookup(senderIP); !ok {
		t.Fatal("accepted reply must update the cache")
	}
}

func TestHandleReplyDrainsPendingQueue(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c := arp.NewCache(clk, nil)
	ourIP := [4]byte{10, 0, 1, 1}
	targetIP := [4]byte{10, 0, 2, 254}
	mac := ethernet.Addr{0xcc, 0, 0, 0, 0, 0xfe}

	c.Queue(targetIP, arp.PendingPacket{Buf: []byte("pkt1"), Iface: "eth1"})
	c.Queue(targetIP, arp.PendingPacket{Buf: []byte("pkt2"), Iface: "eth1"})

	drained, accepted := c.HandleReply(ourIP, targetIP, mac, ourIP)
	if !accepted {
		t.Fatal("expected reply to be accepted")
	}
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained packets, got %d", len(drained))
	}

	// Invariant: once resolved, no pending request remains for this IP.
	retries, _ := c.Tick()
	for _, r := range retries {
		if r.TargetIP == targetIP {
			t.Fatal("resolved IP must not still have a pending retry")
		}
	}
}

func TestTickRetriesAndExpires(t *testing.T) {
	clk := clockwork.NewFakeClock()
	c := arp.NewCache(clk, nil)
	targetIP := [4]byte{10, 0, 2, 254}
	c.Queue(targetIP, arp.PendingPacket{Buf: []byte("pkt"), Iface: "eth1"})

	var totalRetries int
	for i := 0; i < arp.MaxRetries; i++ {
		clk.Advance(arp.RetryInterval)
		retries, unreachables := c.Tick()
		if len(unreachables) != 0 {
			t.Fatalf("round %d: unexpected unreachable before exhausting retries", i)
		}
		totalRetries += len(retries)
	}
	if totalRetries != arp.MaxRetries {
		t.Fatalf("expected %d retries, got %d", arp.MaxRetries, totalRetries)
	}

	clk.Advance(arp.RetryInterval)
	_, unreachables := c.Tick()
	if len(unreachables) != 1 {
		t.Fatalf("expected exactly one unreachable packet, got %d", len(unreachables))
	}

	// Pending request must be gone now.
	clk.Advance(arp.RetryInterval)
	retries, _ := c.Tick()
	if len(retries) != 0 {
		t.Fatal("pending request should have been destroyed after exhausting retries")
	}
}
