// Package routetable is the downward routing table a storing-mode
// RPL node builds from DAO registrations, backed by
// github.com/gaissmai/bart for longest-prefix-match lookups.
package routetable

import (
	"net/netip"
	"time"

	"github.com/gaissmai/bart"
)

// Route is one downward route entry: a DAO-registered destination
// prefix, its next hop, and the bookkeeping needed to correlate
// retransmitted DAOs and NoPath withdrawals with it.
type Route struct {
	Prefix netip.Prefix

	// NextHop is the link-local address of the child that sourced the
	// DAO registering this prefix (or, in non-storing mode, the parent
	// address carried in the TRANSIT option).
	NextHop netip.Addr

	// Lifetime is seconds-remaining before this entry expires absent a
	// refreshing DAO; ExpiresAt is the deadline it was converted to at
	// insertion/refresh time.
	Lifetime  uint32
	ExpiresAt time.Time

	// DAOSeqnoIn/DAOSeqnoOut correlate a forwarded DAO's inbound
	// sequence number with the outbound sequence number this node
	// allocated when relaying it toward the root, so a later DAO-ACK
	// can be rewritten back onto the original sequence before being
	// forwarded to the child.
	DAOSeqnoIn  uint8
	DAOSeqnoOut uint8

	// DAOPathSequence is the path sequence carried by the TRANSIT
	// option that last refreshed this route; a DCO must carry a
	// lollipop-greater path sequence to be allowed to remove it.
	DAOPathSequence uint8

	// Pending is true between forwarding this route's registering DAO
	// and receiving (or timing out on) the corresponding DAO-ACK.
	Pending bool

	// NoPath is true once a zero-lifetime DAO has withdrawn this
	// route; it is kept (not deleted) until NoPathRemovalDeadline so a
	// retransmitted No-Path DAO does not re-trigger forwarding.
	NoPath               bool
	NoPathRemovalDeadline time.Time
}

// Table is a prefix-keyed table of downward routes.
type Table struct {
	bt *bart.Table[*Route]
}

// New returns an empty route table.
func New() *Table {
	return &Table{bt: new(bart.Table[*Route])}
}

// Lookup performs a longest-prefix match for dst, the operation the
// forwarding path (outside this module's scope) uses to pick a next
// hop; most callers instead want Get for an exact DAO-registered
// entry.
func (t *Table) Lookup(dst netip.Addr) (*Route, bool) {
	return t.bt.Lookup(dst)
}

// Get returns the exact route registered for prefix, without
// longest-prefix-match fallback — this is what DAO/DCO handling uses
// to find the entry a given TARGET option refers to.
func (t *Table) Get(prefix netip.Prefix) (*Route, bool) {
	return t.bt.Get(prefix)
}

// Add inserts or replaces the route for prefix.
func (t *Table) Add(r *Route) {
	t.bt.Insert(r.Prefix, r)
}

// Remove deletes the route registered for prefix, if any.
func (t *Table) Remove(prefix netip.Prefix) {
	t.bt.Delete(prefix)
}

// NextHop is a convenience accessor returning just the next-hop
// address for an exact prefix match.
func (t *Table) NextHop(prefix netip.Prefix) (netip.Addr, bool) {
	r, ok := t.bt.Get(prefix)
	if !ok {
		return netip.Addr{}, false
	}
	return r.NextHop, true
}

// All iterates every route currently held, in no particular order.
func (t *Table) All(yield func(*Route) bool) {
	for _, r := range t.bt.All() {
		if !yield(r) {
			return
		}
	}
}

// Size returns the number of routes currently held.
func (t *Table) Size() int {
	return t.bt.Size()
}

// PurgeExpired removes every route whose ExpiresAt deadline (for live
// routes) or NoPathRemovalDeadline (for No-Path routes awaiting
// removal) has passed as of now, returning the prefixes removed.
func (t *Table) PurgeExpired(now time.Time) []netip.Prefix {
	var expired []netip.Prefix
	for pfx, r := range t.bt.All() {
		deadline := r.ExpiresAt
		if r.NoPath {
			deadline = r.NoPathRemovalDeadline
		}
		if !deadline.IsZero() && now.After(deadline) {
			expired = append(expired, pfx)
		}
	}
	for _, pfx := range expired {
		t.bt.Delete(pfx)
	}
	return expired
}
