// Package router implements R1 (frame classification) and R2 (the IP
// forwarding engine), wired to the arp and rib packages for R3/R4.
package router

import (
	"log/slog"
	"sync/atomic"

	"github.com/gopherlab/vnet"
	"github.com/gopherlab/vnet/arp"
	"github.com/gopherlab/vnet/ethernet"
	"github.com/gopherlab/vnet/iface"
	"github.com/gopherlab/vnet/icmp"
	"github.com/gopherlab/vnet/internal"
	"github.com/gopherlab/vnet/ipv4"
	"github.com/gopherlab/vnet/metrics"
	"github.com/gopherlab/vnet/rib"
)

// FrameIO is the substrate contract of §6: send a complete Ethernet frame
// out a named interface. Implementations (the in-memory test substrate, or
// the linux TAP adapter in package netdev) must not block indefinitely.
type FrameIO interface {
	Send(ifaceName string, frame []byte) error
}

// Router ties the classifier, forwarding engine, RIB and ARP cache
// together. All fields are required except Metrics, which may be nil.
type Router struct {
	Ifaces *iface.Set
	RIB    *rib.Table
	ARP    *arp.Cache
	IO     FrameIO
	Log    *slog.Logger

	Metrics *metrics.Recorder

	genID atomic.Uint32 // IPv4 ID counter for self-originated packets (ARP-failure ICMP)
}

func (r *Router) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// HandleFrame is the R1 Frame Classifier entry point: the substrate calls
// this with a borrowed buffer on every received frame. Malformed or
// unrecognized frames are dropped silently (logged at debug level); buf
// must not be retained past this call.
func (r *Router) HandleFrame(ifaceName string, buf []byte) {
	eth, err := ethernet.NewFrame(buf)
	if err != nil {
		r.logger().Debug("dropping short ethernet frame", "iface", ifaceName, "len", len(buf))
		return
	}
	switch eth.EtherType() {
	case ethernet.EtherTypeIPv4:
		r.handleIPv4(ifaceName, eth)
	case ethernet.EtherTypeARP:
		r.handleARP(ifaceName, eth)
	default:
		r.logger().Debug("dropping unknown ethertype", "iface", ifaceName, "ethertype", eth.EtherType())
	}
}

func (r *Router) handleIPv4(ifaceName string, eth ethernet.Frame) {
	ipf, err := ipv4.NewFrame(eth.Payload())
	if err != nil {
		r.logger().Debug("dropping short ip packet", "iface", ifaceName, "err", err)
		return
	}
	if err := ipf.ValidateExceptCRC(); err != nil {
		r.logger().Debug("dropping malformed ip header", "iface", ifaceName, "err", err)
		return
	}
	if err := ipf.ValidateChecksum(); err != nil {
		r.logger().Debug("dropping ip packet", "iface", ifaceName, "err", vnet.Wrap("router.handleIPv4", vnet.KindChecksumMismatch, err))
		r.countDrop("checksum_mismatch")
		return
	}
	r.logger().Debug("received ip packet", "iface", ifaceName, "packet", ipf.String())

	ingress, ok := r.Ifaces.Lookup(ifaceName)
	if !ok {
		return
	}

	if _, owned := r.Ifaces.OwnsIP(ipf.Destination()); owned {
		r.deliverLocal(ingress, eth, ipf)
		return
	}
	r.forwardTransit(ingress, eth, ipf)
}

// deliverLocal implements R2's local-delivery branch.
func (r *Router) deliverLocal(ingress iface.Interface, eth ethernet.Frame, ipf ipv4.Frame) {
	if ipf.Protocol() != ipv4.ProtocolICMP {
		err := vnet.Wrap("router.deliverLocal", vnet.KindLocalProtocolUnsupported, nil)
		r.logger().Debug("sending port unreachable", "protocol", ipf.Protocol(), "err", err)
		r.replyError(ingress, eth, ipf, icmp.TypeDestUnreachable, icmp.CodePortUnreachable)
		return
	}
	req, err := icmp.NewFrame(ipf.Payload())
	if err != nil || req.Type() != icmp.TypeEcho {
		r.replyError(ingress, eth, ipf, icmp.TypeDestUnreachable, icmp.CodePortUnreachable)
		return
	}
	r.replyEchoReply(ingress, eth, ipf)
}

// replyEchoReply synthesizes an Echo Reply using the inbound packet as a
// template: swap Ethernet src/dst, IP src becomes the inbound interface's
// address, IP dst the original source, TTL=60, DF set.
func (r *Router) replyEchoReply(ingress iface.Interface, eth ethernet.Frame, ipf ipv4.Frame) {
	originalSrc := ipf.Source()

	if _, err := icmp.BuildEchoReply(ipf.Payload()); err != nil {
		r.logger().Debug("malformed echo request", "err", err)
		return
	}

	eth.SwapAddrs()
	eth.SetSource(ingress.HW)
	ipf.SetSource(ingress.IP)
	ipf.SetDestination(originalSrc)
	ipf.SetTTL(60)
	ipf.SetFlagsAndFragmentOffset(ipv4.FlagDontFragment, 0)
	ipf.RecomputeChecksum()

	r.send(ingress.Name, eth.Raw())
	r.countICMP(icmp.TypeEchoReply)
}

// replyError implements the Port/Net Unreachable and Time Exceeded paths,
// which all share the same shape: reverse Ethernet addressing of the
// inbound frame, build a fresh IP+ICMP error packet quoting the original
// header, and send it back out the ingress interface.
func (r *Router) replyError(ingress iface.Interface, eth ethernet.Frame, ipf ipv4.Frame, typ icmp.Type, code icmp.Code) {
	buf := make([]byte, ethernet.HeaderSize+ipv4.MinHeaderSize+icmp.HeaderSize+icmp.DataSize)
	outEth := ethernet.RawFrame(buf)
	outEth.SetDestination(eth.Source())
	outEth.SetSource(ingress.HW)
	outEth.SetEtherType(ethernet.EtherTypeIPv4)

	outIP, _ := ipv4.NewFrame(buf[ethernet.HeaderSize:])
	outIP.SetVersionAndIHL(5)
	outIP.SetTOS(0)
	outIP.SetTotalLength(uint16(ipv4.MinHeaderSize + icmp.HeaderSize + icmp.DataSize))
	outIP.SetID(ipf.ID())
	outIP.SetFlagsAndFragmentOffset(ipv4.FlagDontFragment, 0)
	outIP.SetTTL(60)
	outIP.SetProtocol(ipv4.ProtocolICMP)
	outIP.SetSource(ingress.IP)
	outIP.SetDestination(ipf.Source())

	_, err := icmp.BuildError(outIP.Payload(), typ, code, ipf.Raw())
	if err != nil {
		r.logger().Error("failed to build icmp error", "err", err)
		return
	}
	outIP.RecomputeChecksum()

	r.send(ingress.Name, buf)
	r.countICMP(typ)
}

// forwardTransit implements R2's transit branch: TTL decrement, checksum
// recompute, RIB lookup, and ARP-cache-gated transmission or queueing.
func (r *Router) forwardTransit(ingress iface.Interface, eth ethernet.Frame, ipf ipv4.Frame) {
	if ipf.DecrementTTL() == 0 {
		err := vnet.Wrap("router.forwardTransit", vnet.KindTTLExpired, nil)
		r.logger().Debug("ttl expired", "err", err, "dst", ipf.Destination())
		r.replyError(ingress, eth, ipf, icmp.TypeTimeExceeded, icmp.CodeExceededInTransit)
		return
	}
	ipf.RecomputeChecksum()

	route, ok := r.RIB.Lookup(ipf.Destination())
	if !ok {
		err := vnet.Wrap("router.forwardTransit", vnet.KindRouteMiss, nil)
		r.logger().Debug("no route", "err", err, "dst", ipf.Destination())
		r.replyError(ingress, eth, ipf, icmp.TypeDestUnreachable, icmp.CodeNetUnreachable)
		return
	}
	nextHop := rib.NextHop(route, ipf.Destination())
	r.transmitOrQueue(eth.Raw(), route.Interface, nextHop)
}

// transmitOrQueue is the cache-hit/cache-miss fork shared by transit
// forwarding and the recursive routing used to emit ARP-failure ICMP
// messages (which have no ingress frame to reply against).
func (r *Router) transmitOrQueue(frame []byte, outIfaceName string, nextHop [4]byte) {
	outIface, ok := r.Ifaces.Lookup(outIfaceName)
	if !ok {
		r.logger().Error("route references unknown interface", "iface", outIfaceName)
		return
	}
	if mac, ok := r.ARP.Lookup(nextHop); ok {
		eth := ethernet.RawFrame(frame)
		eth.SetSource(outIface.HW)
		eth.SetDestination(mac)
		r.send(outIfaceName, frame)
		return
	}
	owned := make([]byte, len(frame))
	copy(owned, frame)
	r.ARP.Queue(nextHop, arp.PendingPacket{Buf: owned, Iface: outIfaceName})
	r.logger().Debug("queued packet pending arp resolution", internal.SlogAddr4("next_hop", &nextHop), "iface", outIfaceName)
}

func (r *Router) handleARP(ifaceName string, eth ethernet.Frame) {
	ingress, ok := r.Ifaces.Lookup(ifaceName)
	if !ok {
		return
	}
	f, err := arp.NewFrame(eth.Payload())
	if err != nil {
		r.logger().Debug("dropping malformed arp packet", "iface", ifaceName, "err", err)
		return
	}
	switch f.Operation() {
	case arp.OpReply:
		drained, accepted := r.ARP.HandleReply(ingress.IP, f.SenderProto(), f.SenderHardware(), f.TargetProto())
		if !accepted {
			return
		}
		for _, pkt := range drained {
			outIface, ok := r.Ifaces.Lookup(pkt.Iface)
			if !ok {
				continue
			}
			outEth := ethernet.RawFrame(pkt.Buf)
			outEth.SetSource(outIface.HW)
			outEth.SetDestination(f.SenderHardware())
			r.send(pkt.Iface, pkt.Buf)
		}
	case arp.OpRequest:
		if f.TargetProto() != ingress.IP {
			return // gratuitous / not addressed to us
		}
		r.sendARPReply(ingress, f)
	}
}

func (r *Router) sendARPReply(ingress iface.Interface, req arp.Frame) {
	buf := make([]byte, ethernet.HeaderSize+arp.Size)
	eth := ethernet.RawFrame(buf)
	eth.SetDestination(req.SenderHardware())
	eth.SetSource(ingress.HW)
	eth.SetEtherType(ethernet.EtherTypeARP)

	reply := arp.InitEthernetIPv4(buf[ethernet.HeaderSize:])
	reply.SetOperation(arp.OpReply)
	reply.SetSenderHardware(ingress.HW)
	reply.SetSenderProto(ingress.IP)
	reply.SetTargetHardware(req.SenderHardware())
	reply.SetTargetProto(req.SenderProto())

	r.send(ingress.Name, buf)
}

// SendARPRequest broadcasts an ARP request for targetIP out outIfaceName,
// invoked from the ARP cache's periodic retry tick (see cmd/vnet-router).
func (r *Router) SendARPRequest(outIfaceName string, targetIP [4]byte) {
	outIface, ok := r.Ifaces.Lookup(outIfaceName)
	if !ok {
		return
	}
	buf := make([]byte, ethernet.HeaderSize+arp.Size)
	eth := ethernet.RawFrame(buf)
	eth.SetDestination(ethernet.Broadcast)
	eth.SetSource(outIface.HW)
	eth.SetEtherType(ethernet.EtherTypeARP)

	req := arp.InitEthernetIPv4(buf[ethernet.HeaderSize:])
	req.SetOperation(arp.OpRequest)
	req.SetSenderHardware(outIface.HW)
	req.SetSenderProto(outIface.IP)
	req.SetTargetHardware(ethernet.Addr{})
	req.SetTargetProto(targetIP)

	r.logger().Debug("sending arp request", internal.SlogAddr4("target_ip", &targetIP), "iface", outIfaceName)
	r.send(outIfaceName, buf)
}

// EmitHostUnreachable turns an ARP-failure Unreachable record into an ICMP
// Host Unreachable addressed to the original sender. Unlike replyError,
// there is no surviving ingress frame to reply against (the failure is
// discovered asynchronously, long after the triggering frame arrived), so
// the ICMP packet is built fresh and routed through the normal RIB/ARP
// path, which may itself queue pending ARP resolution.
// EmitHostUnreachable implements the ARP-failure path: r.ARP gave up
// resolving a next hop (KindArpUnresolved) for a queued packet, so the
// router synthesizes a Host Unreachable ICMP back toward that packet's
// original source instead of holding it forever.
func (r *Router) EmitHostUnreachable(u arp.Unreachable) {
	r.logger().Debug("arp resolution failed", "err", vnet.Wrap("router.EmitHostUnreachable", vnet.KindArpUnresolved, nil), "target_ip", u.TargetIP)
	outIface, ok := r.Ifaces.Lookup(u.Packet.Iface)
	if !ok {
		return
	}
	eth := ethernet.RawFrame(u.Packet.Buf)
	if err := eth.ValidateSize(); err != nil {
		return
	}
	orig, err := ipv4.NewFrame(eth.Payload())
	if err != nil {
		return
	}

	const payloadLen = icmp.HeaderSize + icmp.DataSize
	ipBuf := make([]byte, ipv4.MinHeaderSize+payloadLen)
	ipOut, _ := ipv4.NewFrame(ipBuf)
	ipOut.SetVersionAndIHL(5)
	ipOut.SetTotalLength(uint16(len(ipBuf)))
	ipOut.SetID(uint16(r.genID.Add(1)))
	ipOut.SetFlagsAndFragmentOffset(ipv4.FlagDontFragment, 0)
	ipOut.SetTTL(60)
	ipOut.SetProtocol(ipv4.ProtocolICMP)
	ipOut.SetSource(outIface.IP)
	ipOut.SetDestination(orig.Source())
	if _, err := icmp.BuildError(ipOut.Payload(), icmp.TypeDestUnreachable, icmp.CodeHostUnreachable, orig.Raw()); err != nil {
		r.logger().Error("failed to build host-unreachable icmp", "err", err)
		return
	}
	ipOut.RecomputeChecksum()

	route, ok := r.RIB.Lookup(ipOut.Destination())
	if !ok {
		r.logger().Debug("no route for host-unreachable destination", "dst", ipOut.Destination())
		return
	}
	frame := make([]byte, ethernet.HeaderSize+len(ipBuf))
	copy(frame[ethernet.HeaderSize:], ipBuf)
	outEth := ethernet.RawFrame(frame)
	outEth.SetEtherType(ethernet.EtherTypeIPv4)

	r.transmitOrQueue(frame, route.Interface, rib.NextHop(route, ipOut.Destination()))
	r.countICMP(icmp.TypeDestUnreachable)
}

func (r *Router) send(ifaceName string, frame []byte) {
	if err := r.IO.Send(ifaceName, frame); err != nil {
		r.logger().Error("frame send failed", "iface", ifaceName, "err", err)
	}
}

func (r *Router) countDrop(reason string) {
	if r.Metrics != nil {
		r.Metrics.DroppedFrames.WithLabelValues(reason).Inc()
	}
}

func (r *Router) countICMP(typ icmp.Type) {
	if r.Metrics != nil {
		r.Metrics.ICMPEmitted.WithLabelValues(typ.String()).Inc()
	}
}
