// Package mrhof implements the Minimum Rank with Hysteresis Objective
// Function (RFC 6719), using ETX as both the link metric and the
// aggregated path metric.
package mrhof

import "github.com/llnroute/rpl-node/of"
import "github.com/llnroute/rpl-node/wire"

// ETXDivisor scales the fixed-point ETX values carried in link
// metrics, ranks and the advertised metric container.
const ETXDivisor = 128

const (
	maxLinkMetric            = 10
	maxPathCost              = 100
	parentSwitchThresholdDiv = 2
	etxAlpha                 = 90
	etxScale                 = 100
	initLinkMetric           = 2 // conservative default used when a node (the root) has no parent
)

// OF is the MRHOF objective function. It carries no mutable state of
// its own; every candidate's rank and link metric live in the caller's
// parent arena.
type OF struct{}

// New returns an MRHOF objective function instance.
func New() *OF {
	return &OF{}
}

func (*OF) Name() string { return "MRHOF" }

// OCP is the RFC 6552 Objective Code Point for MRHOF.
func (*OF) OCP() uint16 { return 1 }

func (*OF) NeighborLinkCallback(metric uint16, status of.TxStatus, numTx int) uint16 {
	if status == of.TxErr {
		// Collisions and other transmission errors never penalize ETX.
		return metric
	}
	packetETX := uint32(numTx) * ETXDivisor
	if status == of.TxNoACK {
		packetETX = maxLinkMetric * ETXDivisor
	}
	newETX := (uint32(metric)*etxAlpha + packetETX*(etxScale-etxAlpha)) / etxScale
	return uint16(newETX)
}

// pathMetric is the aggregated ETX cost of reaching the root through
// a candidate parent; nil (no parent) costs maxPathCost scaled by the
// divisor, the worst finite value this OF ever produces.
func pathMetric(hasParent bool, p of.Parent) uint32 {
	if !hasParent {
		return maxPathCost * ETXDivisor
	}
	return uint32(p.Rank) + uint32(p.LinkMetric)
}

func (*OF) CalculateRank(hasParent bool, p of.Parent, baseRank uint16) uint16 {
	var increase uint32
	base := uint32(baseRank)
	if !hasParent {
		if base == 0 {
			return of.InfiniteRank
		}
		increase = initLinkMetric * ETXDivisor
	} else {
		increase = uint32(p.LinkMetric)
		if base == 0 {
			base = uint32(p.Rank)
		}
	}
	if uint32(of.InfiniteRank)-base < increase {
		return of.InfiniteRank
	}
	return uint16(base + increase)
}

func (*OF) BestParent(p1, p2 of.Parent, preferredIsP1, preferredIsP2 bool) int {
	minDiff := uint32(ETXDivisor / parentSwitchThresholdDiv)
	m1 := pathMetric(true, p1)
	m2 := pathMetric(true, p2)

	if preferredIsP1 || preferredIsP2 {
		var diff uint32
		if m1 > m2 {
			diff = m1 - m2
		} else {
			diff = m2 - m1
		}
		if diff <= minDiff {
			if preferredIsP1 {
				return of.ChooseFirst
			}
			return of.ChooseSecond
		}
	}

	if m1 < m2 {
		return of.ChooseFirst
	}
	return of.ChooseSecond
}

func (*OF) BestDAG(d1, d2 of.DAG) int {
	if d1.Grounded != d2.Grounded {
		if d1.Grounded {
			return of.ChooseFirst
		}
		return of.ChooseSecond
	}
	if d1.Preference != d2.Preference {
		if d1.Preference > d2.Preference {
			return of.ChooseFirst
		}
		return of.ChooseSecond
	}
	if d1.Rank < d2.Rank {
		return of.ChooseFirst
	}
	return of.ChooseSecond
}

func (*OF) UpdateMetricContainer(pathMetric uint16, isRoot bool) *wire.MetricContainer {
	metric := pathMetric
	if isRoot {
		metric = 0
	}
	return &wire.MetricContainer{
		MetricType: wire.MetricTypeETX,
		Flags:      0x01, // 'P' (pedantic) bit, per the reference encoder
		Aggregate:  0,    // additive
		Precedence: 0,
		Length:     2,
		ETX:        metric,
	}
}

// DAOAckCallback is a no-op: the reference MRHOF implementation does
// not register a dao_ack_callback, leaving DAO-ack handling to the
// generic retransmission state machine in package rpl.
func (*OF) DAOAckCallback(uint8) (bool, int) {
	return false, 0
}
