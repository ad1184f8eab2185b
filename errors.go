// Package vnet ties together the router and cTCP subsystems and defines the
// error taxonomy shared by both.
package vnet

import "fmt"

// Kind classifies an Error without requiring callers to match on strings.
type Kind uint8

const (
	_ Kind = iota
	// KindMalformedFrame marks a frame that is too short or fails a basic
	// sanity check (bad version, bad IHL, truncated header).
	KindMalformedFrame
	// KindChecksumMismatch marks an IP header or cTCP segment whose stored
	// checksum does not match the recomputed one.
	KindChecksumMismatch
	// KindRouteMiss marks a forwarding lookup with no matching RIB entry.
	KindRouteMiss
	// KindArpUnresolved marks an ARP request that exhausted its retries.
	KindArpUnresolved
	// KindTTLExpired marks a forwarded packet whose TTL reached zero.
	KindTTLExpired
	// KindLocalProtocolUnsupported marks a locally-addressed packet whose
	// protocol the router does not answer (anything but ICMP echo).
	KindLocalProtocolUnsupported
	// KindPeerUnresponsive marks a cTCP connection torn down after
	// exhausting its retransmission budget.
	KindPeerUnresponsive
)

func (k Kind) String() string {
	switch k {
	case KindMalformedFrame:
		return "malformed frame"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindRouteMiss:
		return "route miss"
	case KindArpUnresolved:
		return "arp unresolved"
	case KindTTLExpired:
		return "ttl expired"
	case KindLocalProtocolUnsupported:
		return "local protocol unsupported"
	case KindPeerUnresponsive:
		return "peer unresponsive"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with context so tests and callers can assert on
// classification instead of parsing strings, while still composing with the
// standard errors.Is/As machinery via Unwrap.
type Error struct {
	Kind Kind
	Op   string // operation that produced the error, e.g. "router.forwardTransit"
	Err  error  // optional underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, &vnet.Error{Kind: vnet.KindRouteMiss}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Wrap builds an *Error of the given kind, attributing it to op.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
