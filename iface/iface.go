// Package iface describes the fixed set of router-attached interfaces.
package iface

import "github.com/gopherlab/vnet/ethernet"

// MTU is the constant link MTU assumed throughout; path-MTU discovery and
// fragmentation are out of scope.
const MTU = 1500

// Interface is one router-attached network interface. The set of
// interfaces is fixed at startup.
type Interface struct {
	Name string
	IP   [4]byte
	HW   ethernet.Addr
}

// Set is a fixed, name-indexed collection of interfaces.
type Set struct {
	byName map[string]Interface
	order  []string
}

// NewSet builds a Set from ifaces, preserving insertion order for iteration.
func NewSet(ifaces ...Interface) *Set {
	s := &Set{byName: make(map[string]Interface, len(ifaces))}
	for _, i := range ifaces {
		s.byName[i.Name] = i
		s.order = append(s.order, i.Name)
	}
	return s
}

// Lookup returns the interface registered under name.
func (s *Set) Lookup(name string) (Interface, bool) {
	i, ok := s.byName[name]
	return i, ok
}

// OwnsIP reports whether ip belongs to any interface in the set, i.e. the
// packet is addressed to this router rather than a transit destination.
func (s *Set) OwnsIP(ip [4]byte) (Interface, bool) {
	for _, name := range s.order {
		i := s.byName[name]
		if i.IP == ip {
			return i, true
		}
	}
	return Interface{}, false
}

// All returns interfaces in registration order.
func (s *Set) All() []Interface {
	out := make([]Interface, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}
