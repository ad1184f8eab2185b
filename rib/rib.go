// Package rib implements the longest-prefix-match routing table.
package rib

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
)

// Route is one routing table entry.
type Route struct {
	Dest      [4]byte
	Mask      [4]byte
	Gateway   [4]byte // zero means "destination is directly reachable"
	Interface string
}

func (r Route) maskBits() uint32 { return binary.BigEndian.Uint32(r.Mask[:]) }

// Table is an ordered sequence of routes. Lookup performs a linear scan and
// returns the entry with the longest matching mask; ties (identical mask
// length matching the same prefix) are broken in favor of the
// first-inserted entry, matching the original sr_rt_for_dst behavior.
type Table struct {
	routes []Route
}

// New returns an empty table.
func New() *Table { return &Table{} }

// Add appends r to the table. Order matters for tie-breaking.
func (t *Table) Add(r Route) { t.routes = append(t.routes, r) }

// Lookup returns the route with the longest mask matching dst, or false if
// none match. Among entries whose mask ties for longest, the first one
// inserted wins (strictly-greater-than comparison, never replacing on
// equal mask length).
func (t *Table) Lookup(dst [4]byte) (Route, bool) {
	dstBits := binary.BigEndian.Uint32(dst[:])
	var best Route
	var bestMask uint32
	found := false
	for _, r := range t.routes {
		maskBits := r.maskBits()
		destBits := binary.BigEndian.Uint32(r.Dest[:])
		if dstBits&maskBits != destBits {
			continue
		}
		if !found || maskBits > bestMask {
			best = r
			bestMask = maskBits
			found = true
		}
	}
	return best, found
}

// NextHop resolves the address that ARP should be asked to resolve for r: the
// gateway if set, or the destination itself when the route is "on-link"
// (zero gateway, as produced by a directly-connected-subnet entry).
func NextHop(r Route, dst [4]byte) [4]byte {
	var zero [4]byte
	if r.Gateway == zero {
		return dst
	}
	return r.Gateway
}

// Routes returns the routes in insertion order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// LoadTable parses the course harness's text routing-table format: one
// route per line, whitespace-separated "dst gw mask iface", dotted-quad
// addresses. Blank lines and lines starting with '#' are ignored.
func LoadTable(r io.Reader) (*Table, error) {
	t := New()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, fmt.Errorf("rib: line %d: want 4 fields, got %d", lineNo, len(fields))
		}
		dest, err := parseIPv4(fields[0])
		if err != nil {
			return nil, fmt.Errorf("rib: line %d: dest: %w", lineNo, err)
		}
		gw, err := parseIPv4(fields[1])
		if err != nil {
			return nil, fmt.Errorf("rib: line %d: gateway: %w", lineNo, err)
		}
		mask, err := parseIPv4(fields[2])
		if err != nil {
			return nil, fmt.Errorf("rib: line %d: mask: %w", lineNo, err)
		}
		t.Add(Route{Dest: dest, Gateway: gw, Mask: mask, Interface: fields[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func parseIPv4(s string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("invalid IPv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out, fmt.Errorf("not an IPv4 address %q", s)
	}
	copy(out[:], ip4)
	return out, nil
}
