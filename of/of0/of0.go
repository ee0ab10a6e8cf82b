// Package of0 implements Objective Function Zero (RFC 6552), the
// hop-count-flavored OF that scales rank increase by a parent's link
// metric rather than advertising an ETX metric container.
package of0

import "github.com/llnroute/rpl-node/of"
import "github.com/llnroute/rpl-node/wire"

// ETXDivisor matches package mrhof's scaling; OF0 reads the same
// link-stats ETX values MRHOF does, just folds them differently into
// rank.
const ETXDivisor = 128

const (
	rankFactor  = 1
	rankStretch = 0

	minStepOfRank = 1
	maxStepOfRank = 9

	noLinkMetric uint16 = 0xffff // link-stats ETX unknown
)

// OF is the OF0 objective function.
type OF struct {
	// MinHopRankIncrease is read from the node's DAG configuration
	// (RPL_MIN_HOPRANKINC); it scales every rank increase OF0
	// computes.
	MinHopRankIncrease uint16
}

// New returns an OF0 objective function scaled by minHopRankIncrease.
func New(minHopRankIncrease uint16) *OF {
	return &OF{MinHopRankIncrease: minHopRankIncrease}
}

func (*OF) Name() string { return "OF0" }

// OCP is the RFC 6552 Objective Code Point for OF0.
func (*OF) OCP() uint16 { return 0 }

// linkMetric returns a parent's link metric, or the "unknown" sentinel
// when it has none recorded yet.
func linkMetric(hasParent bool, p of.Parent) uint16 {
	if !hasParent {
		return noLinkMetric
	}
	return p.LinkMetric
}

// stepOfRank implements STEP_OF_RANK(p) = (3 * link_metric(p) /
// ETXDivisor) - 2, the ETX-scaled variant (the reference
// implementation's alternative hop-count-only variant is not used
// here since link-stats ETX is always available from package
// linkstats).
func stepOfRank(metric uint16) int {
	return (3*int(metric))/ETXDivisor - 2
}

func (o *OF) rankIncrease(metric uint16) uint16 {
	step := stepOfRank(metric)
	return uint16((rankFactor*step + rankStretch) * int(o.MinHopRankIncrease))
}

func (*OF) NeighborLinkCallback(metric uint16, status of.TxStatus, numTx int) uint16 {
	// OF0 does not maintain its own ETX EWMA; link-stats updates are
	// driven by the link layer directly, not by the objective
	// function, so this is a no-op pass-through.
	return metric
}

func (o *OF) CalculateRank(hasParent bool, p of.Parent, baseRank uint16) uint16 {
	if !hasParent {
		if baseRank == 0 {
			return of.InfiniteRank
		}
	}
	metric := linkMetric(hasParent, p)
	increase := o.rankIncrease(metric)
	base := baseRank
	if hasParent && base == 0 {
		base = p.Rank
	}
	if of.InfiniteRank-base < increase {
		return of.InfiniteRank
	}
	return base + increase
}

// parentIsAcceptable reports whether a candidate's STEP_OF_RANK falls
// within [minStepOfRank, maxStepOfRank].
func parentIsAcceptable(metric uint16) bool {
	step := stepOfRank(metric)
	return step >= minStepOfRank && step <= maxStepOfRank
}

func (o *OF) BestParent(p1, p2 of.Parent, preferredIsP1, preferredIsP2 bool) int {
	p1ok := parentIsAcceptable(p1.LinkMetric)
	p2ok := parentIsAcceptable(p2.LinkMetric)
	if p1ok && !p2ok {
		return of.ChooseFirst
	}
	if p2ok && !p1ok {
		return of.ChooseSecond
	}

	minDiff := uint32(o.MinHopRankIncrease) + uint32(o.MinHopRankIncrease)/2
	r1 := uint32(dagRank(p1.Rank, o.MinHopRankIncrease))*uint32(o.MinHopRankIncrease) + uint32(p1.LinkMetric)
	r2 := uint32(dagRank(p2.Rank, o.MinHopRankIncrease))*uint32(o.MinHopRankIncrease) + uint32(p2.LinkMetric)

	if preferredIsP1 || preferredIsP2 {
		var diff uint32
		if r1 > r2 {
			diff = r1 - r2
		} else {
			diff = r2 - r1
		}
		if diff < minDiff {
			if preferredIsP1 {
				return of.ChooseFirst
			}
			return of.ChooseSecond
		}
	}

	if r1 < r2 {
		return of.ChooseFirst
	}
	return of.ChooseSecond
}

// dagRank is DAG_RANK(rank) = rank / minHopRankIncrease, the
// integer hop-count implied by a rank at the configured granularity.
func dagRank(rank uint16, minHopRankIncrease uint16) uint16 {
	if minHopRankIncrease == 0 {
		return rank
	}
	return rank / minHopRankIncrease
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

// UpdateMetricContainer returns nil: OF0 advertises no metric
// container (RPL_DAG_MC_NONE).
func (*OF) UpdateMetricContainer(pathMetric uint16, isRoot bool) *wire.MetricContainer {
	return nil
}

// DAOAckCallback asks for a penalty of 10 synthetic failed
// transmissions whenever a DAO registration is rejected (other than
// "unable to add route at root", which is not actionable at this node)
// or the registration attempt times out. The caller applies it through
// linkstats.Penalize, which routes it through OF0's pass-through
// NeighborLinkCallback, so the parent's link metric is left unchanged.
func (*OF) DAOAckCallback(status uint8) (bool, int) {
	const unableToAddRouteAtRoot = 129
	const unableToAccept = 128
	const timeout = 255
	if status == unableToAddRouteAtRoot {
		return false, 0
	}
	if status >= unableToAccept || status == timeout {
		return true, 10
	}
	return false, 0
}
