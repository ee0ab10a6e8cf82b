package neighbor_test

import (
	"net/netip"
	"testing"

	"github.com/llnroute/rpl-node/neighbor"
)

func TestAddAndLookup(t *testing.T) {
	c := neighbor.New(0)
	addr := netip.MustParseAddr("fe80::1")
	e, ok := c.Add(addr, "aa", neighbor.ReasonDIO)
	if !ok {
		t.Fatal("Add should succeed on an unbounded cache")
	}
	if e.GlobalAddr != addr {
		t.Errorf("got %v, want %v", e.GlobalAddr, addr)
	}
	got, ok := c.Lookup("aa")
	if !ok || got != e {
		t.Error("Lookup should return the same entry Add created")
	}
}

func TestAddRefreshesExistingEntry(t *testing.T) {
	c := neighbor.New(1)
	a1 := netip.MustParseAddr("fe80::1")
	a2 := netip.MustParseAddr("fe80::2")
	c.Add(a1, "aa", neighbor.ReasonDIO)
	e, ok := c.Add(a2, "aa", neighbor.ReasonDAOParent)
	if !ok {
		t.Fatal("refreshing an existing entry must not fail even at capacity")
	}
	if e.GlobalAddr != a2 || e.Reason != neighbor.ReasonDAOParent {
		t.Error("Add should refresh address and reason for an existing lladdr")
	}
}

func TestAddFailsAtCapacity(t *testing.T) {
	c := neighbor.New(1)
	c.Add(netip.MustParseAddr("fe80::1"), "aa", neighbor.ReasonDIO)
	_, ok := c.Add(netip.MustParseAddr("fe80::2"), "bb", neighbor.ReasonDIO)
	if ok {
		t.Error("Add should fail once the cache is at capacity for a new lladdr")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestRemove(t *testing.T) {
	c := neighbor.New(0)
	c.Add(netip.MustParseAddr("fe80::1"), "aa", neighbor.ReasonDIO)
	c.Remove("aa")
	if c.Has("aa") {
		t.Error("Has should report false after Remove")
	}
}
