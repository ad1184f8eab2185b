package rib_test

import (
	"strings"
	"testing"

	"github.com/gopherlab/vnet/rib"
	"github.com/google/go-cmp/cmp"
)

func TestLookupLongestPrefixWins(t *testing.T) {
	tbl := rib.New()
	tbl.Add(rib.Route{Dest: [4]byte{192, 168, 0, 0}, Mask: [4]byte{255, 255, 0, 0}, Interface: "eth0"})
	tbl.Add(rib.Route{Dest: [4]byte{192, 168, 2, 0}, Mask: [4]byte{255, 255, 255, 0}, Gateway: [4]byte{10, 0, 2, 254}, Interface: "eth1"})

	got, ok := tbl.Lookup([4]byte{192, 168, 2, 5})
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Interface != "eth1" {
		t.Fatalf("expected the /24 route to win, got interface %q", got.Interface)
	}
}

func TestLookupNoMatch(t *testing.T) {
	tbl := rib.New()
	tbl.Add(rib.Route{Dest: [4]byte{10, 0, 0, 0}, Mask: [4]byte{255, 0, 0, 0}, Interface: "eth0"})
	if _, ok := tbl.Lookup([4]byte{172, 16, 0, 1}); ok {
		t.Fatal("expected no match")
	}
}

func TestLookupTieBreaksFirstInsertion(t *testing.T) {
	tbl := rib.New()
	tbl.Add(rib.Route{Dest: [4]byte{10, 0, 0, 0}, Mask: [4]byte{255, 0, 0, 0}, Interface: "first"})
	tbl.Add(rib.Route{Dest: [4]byte{10, 0, 0, 0}, Mask: [4]byte{255, 0, 0, 0}, Interface: "second"})

	got, ok := tbl.Lookup([4]byte{10, 1, 2, 3})
	if !ok || got.Interface != "first" {
		t.Fatalf("expected first-inserted duplicate-mask route to win, got %+v ok=%v", got, ok)
	}
}

func TestNextHopOnLinkUsesDestination(t *testing.T) {
	r := rib.Route{Interface: "eth0"} // zero gateway
	dst := [4]byte{10, 0, 1, 2}
	if got := rib.NextHop(r, dst); got != dst {
		t.Fatalf("NextHop = %v, want destination %v for on-link route", got, dst)
	}
}

func TestLoadTable(t *testing.T) {
	const text = `# comment
192.168.2.0 10.0.2.254 255.255.255.0 eth1
0.0.0.0 10.0.0.1 0.0.0.0 eth0
`
	tbl, err := rib.LoadTable(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}

	want := []rib.Route{
		{Dest: [4]byte{192, 168, 2, 0}, Gateway: [4]byte{10, 0, 2, 254}, Mask: [4]byte{255, 255, 255, 0}, Interface: "eth1"},
		{Dest: [4]byte{0, 0, 0, 0}, Gateway: [4]byte{10, 0, 0, 1}, Mask: [4]byte{0, 0, 0, 0}, Interface: "eth0"},
	}
	if diff := cmp.Diff(want, tbl.Routes()); diff != "" {
		t.Fatalf("parsed routes mismatch (-want +got):\n%s", diff)
	}

	got, ok := tbl.Lookup([4]byte{192, 168, 2, 5})
	if !ok || got.Interface != "eth1" {
		t.Fatalf("expected eth1 match, got %+v ok=%v", got, ok)
	}
}
