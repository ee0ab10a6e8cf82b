// Package linkstats is the per-neighbor link metric adapter the
// objective functions in package of consult for ETX-scaled link
// metrics (RFC 6550 §2 / the link-layer link-stats module it names as
// an external collaborator).
//
// Like the teacher's cache.Cache, Store is a plain map and is NOT
// threadsafe: it is only ever touched from the single engine
// goroutine.
package linkstats

import "github.com/llnroute/rpl-node/of"

// unknownETX is what an objective function sees for a neighbor with
// no recorded statistics yet (parent_link_metric() in the reference
// implementation returns 0xffff in this case).
const unknownETX uint16 = 0xffff

// Store tracks one ETX-scaled link metric per neighbor, keyed by
// link-layer address.
type Store struct {
	metrics map[string]uint16
}

// NewStore returns an empty link-statistics store.
func NewStore() *Store {
	return &Store{metrics: make(map[string]uint16)}
}

// Get returns a neighbor's current link metric, or the "unknown"
// sentinel if none has been recorded.
func (s *Store) Get(lladdr string) uint16 {
	if m, ok := s.metrics[lladdr]; ok {
		return m
	}
	return unknownETX
}

// Has reports whether any metric has been recorded for lladdr.
func (s *Store) Has(lladdr string) bool {
	_, ok := s.metrics[lladdr]
	return ok
}

// Init records an initial metric for a newly discovered neighbor.
func (s *Store) Init(lladdr string, metric uint16) {
	s.metrics[lladdr] = metric
}

// RecordTx folds one transmission outcome into a neighbor's link
// metric via the given objective function's EWMA (or pass-through,
// for an OF like OF0 that does not maintain its own), and returns the
// updated value.
func (s *Store) RecordTx(lladdr string, objFn of.OF, status of.TxStatus, numTx int) uint16 {
	current := s.Get(lladdr)
	updated := objFn.NeighborLinkCallback(current, status, numTx)
	s.metrics[lladdr] = updated
	return updated
}

// Penalize records one unacknowledged (TxNoACK) transmission report
// with numTx = syntheticFailures for a neighbor, the mechanism used by
// of.OF.DAOAckCallback to react to a rejected or timed-out DAO
// registration. The effect is whatever the objective function's
// NeighborLinkCallback makes of that single report: MRHOF applies one
// EWMA step toward its fixed no-ACK ETX regardless of numTx, and OF0's
// pass-through callback leaves the metric unchanged.
func (s *Store) Penalize(lladdr string, objFn of.OF, syntheticFailures int) uint16 {
	if syntheticFailures <= 0 {
		return s.Get(lladdr)
	}
	return s.RecordTx(lladdr, objFn, of.TxNoACK, syntheticFailures)
}

// Remove forgets a neighbor's recorded statistics, e.g. once it has
// been evicted from the neighbor cache.
func (s *Store) Remove(lladdr string) {
	delete(s.metrics, lladdr)
}
