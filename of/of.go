// Package of defines the objective-function contract used for parent
// selection, rank computation, and DODAG preference (RFC 6550 §3.3,
// RFC 6552), plus the two concrete instantiations the wider module
// wires in: MRHOF (package of/mrhof) and OF0 (package of/of0).
package of

import "github.com/llnroute/rpl-node/wire"

// InfiniteRank is the sentinel rank meaning "unreachable" (RFC 6550
// §3.5.1). It is also the rank a dangling/poisoned parent is set to
// during loop detection and local repair.
const InfiniteRank uint16 = 0xffff

// TxStatus is the outcome of a unicast transmission toward a
// neighbor, as reported by the link layer.
type TxStatus int

const (
	TxOK TxStatus = iota
	TxNoACK
	TxErr // collision or other transmission error; never penalizes ETX
)

// Parent is the minimal, read-only view of a candidate parent an
// objective function needs in order to score it: its advertised rank
// from the last DIO, and its current link metric as tracked by
// package linkstats.
type Parent struct {
	Rank       uint16
	LinkMetric uint16
}

// DAG is the minimal view of a candidate DODAG needed to rank it
// against another, per RFC 6550 §3.3 (grounded > preference > rank).
type DAG struct {
	Grounded   bool
	Preference uint8
	Rank       uint16
}

// OF is satisfied by each objective function implementation. Callers
// (package rpl) own the actual Instance/DAG/Parent arena; OF never
// sees those types, only the narrow views above, so it never needs to
// import package dag.
type OF interface {
	// Name identifies the OF for logging and the Objective Code Point
	// advertised in the DAG_CONFIGURATION suboption.
	Name() string
	OCP() uint16

	// NeighborLinkCallback folds one transmission outcome into a
	// parent's link metric, returning the updated value.
	NeighborLinkCallback(metric uint16, status TxStatus, numTx int) uint16

	// CalculateRank computes the rank reachable via a parent. When
	// hasParent is false, baseRank == 0 yields InfiniteRank (no path);
	// a nonzero baseRank together with hasParent == false models the
	// root computing its own rank.
	CalculateRank(hasParent bool, parent Parent, baseRank uint16) uint16

	// BestParent reports which of two candidates should be (or
	// remain) the preferred parent. preferredIsP1/preferredIsP2 tell
	// the OF which, if either, is the incumbent, for hysteresis.
	BestParent(p1, p2 Parent, preferredIsP1, preferredIsP2 bool) int

	// BestDAG reports which of two candidate DODAGs is preferable.
	BestDAG(d1, d2 DAG) int

	// UpdateMetricContainer builds the DAG_METRIC_CONTAINER this node
	// should advertise in its next DIO. pathMetric is the path cost
	// through the preferred parent (0 at the root); it returns nil
	// for an OF that advertises no metric container (e.g. OF0).
	UpdateMetricContainer(pathMetric uint16, isRoot bool) *wire.MetricContainer

	// DAOAckCallback reacts to a DAO-ACK/NACK/timeout by reporting
	// how many synthetic failed transmissions should be folded into
	// the parent's link metric (0 means no adjustment).
	DAOAckCallback(status uint8) (penalize bool, syntheticFailures int)
}

// BestParent result codes.
const (
	ChooseFirst  = 1
	ChooseSecond = 2
)
