package rpl

import (
	"net/netip"

	"github.com/llnroute/rpl-node/dag"
	"github.com/llnroute/rpl-node/ipstack"
	"github.com/llnroute/rpl-node/neighbor"
	"github.com/llnroute/rpl-node/of"
	"github.com/llnroute/rpl-node/of/mrhof"
	"github.com/llnroute/rpl-node/of/of0"
	"github.com/llnroute/rpl-node/wire"
)

// ofZeroOCP is RFC 6552's Objective Code Point for OF0 (see
// of0.OF.OCP); DAG_CONFIGURATION suboptions naming this OCP select
// OF0 for a freshly created instance.
const ofZeroOCP = 0

// handleDIO implements the receive side of §4.5: decode the fixed
// header and suboptions, then hand off to processDIO (DAG selection,
// parent update, rank recomputation, trickle consistency counting).
func (e *Engine) handleDIO(payload []byte, src netip.Addr) {
	dio, err := wire.ParseDIO(payload)
	if err != nil {
		e.incMalformed(wire.CodeDIO)
		return
	}
	if e.Metrics != nil {
		e.Metrics.IncDIORecv()
	}

	instance := e.Instances.Get(dio.InstanceID)
	if instance == nil {
		instance = e.CreateInstance(dio.InstanceID, objectiveFunctionFor(dio))
	}

	e.processDIO(instance, src, dio)
}

// objectiveFunctionFor picks the objective function a freshly created
// instance should run, from the DAG_CONFIGURATION suboption's OCP
// field when present, defaulting to MRHOF (RFC 6719) since it is the
// OCP most deployments advertise.
func objectiveFunctionFor(dio *wire.DIO) of.OF {
	if dio.DAGConfig != nil && dio.DAGConfig.OCP == ofZeroOCP {
		return of0.New(dio.DAGConfig.MinHopRankIncrease)
	}
	return mrhof.New()
}

// processDIO is rpl_process_dio: it joins or updates the DAG the DIO
// advertises, folds the sender in as a candidate parent, re-derives
// the preferred parent and rank, and feeds the trickle consistency
// counter.
func (e *Engine) processDIO(instance *dag.Instance, src netip.Addr, dio *wire.DIO) {
	d := e.joinOrUpdateDAG(instance, dio)

	key := neighborKey(src)
	e.Neighbors.Add(src, key, neighbor.ReasonDIO)

	p := d.AddParent(key)
	p.Rank = dio.Rank
	p.Updated = true
	p.LinkMetric = e.LinkStats.Get(key)
	if !e.LinkStats.Has(key) {
		e.LinkStats.Init(key, mrhofInitLinkMetric)
		p.LinkMetric = mrhofInitLinkMetric
	}

	e.recomputePreferredParent(instance, d)

	if instance.Trickle != nil {
		if d.PreferredParent != nil && dio.Rank == d.Rank {
			instance.Trickle.Heard()
		} else {
			instance.Trickle.Reset()
		}
	}
}

// mrhofInitLinkMetric seeds a freshly heard parent's link metric
// before any transmission has been recorded for it, a placeholder
// until linkstats.RecordTx has real data to fold in.
const mrhofInitLinkMetric uint16 = 2 * 128 // modest initial ETX of 2, divisor-scaled

// joinOrUpdateDAG finds (or creates) the DAG named by the DIO's
// DAG_ID, replacing the instance's current DAG only when the new one
// is preferable per the objective function's BestDAG ordering —
// matching RFC 6550's rule that a node does not abandon a
// perfectly good DODAG for a merely different one.
func (e *Engine) joinOrUpdateDAG(instance *dag.Instance, dio *wire.DIO) *dag.DAG {
	current := instance.CurrentDAG
	if current != nil && current.DAGID == dio.DAGID {
		current.Grounded = dio.Grounded
		current.Preference = dio.Preference
		return current
	}

	candidate := dag.NewDAG(instance, dio.DAGID)
	candidate.Grounded = dio.Grounded
	candidate.Preference = dio.Preference
	if dio.PrefixInfo != nil {
		candidate.Prefix = dag.PrefixInfo{
			Length:   dio.PrefixInfo.PrefixLength,
			Flags:    dio.PrefixInfo.Flags,
			Lifetime: dio.PrefixInfo.Lifetime,
			Prefix:   dio.PrefixInfo.Prefix,
		}
	}

	if current == nil {
		instance.CurrentDAG = candidate
		return candidate
	}

	if instance.OF.BestDAG(of.DAG{Grounded: candidate.Grounded, Preference: candidate.Preference, Rank: dio.Rank},
		of.DAG{Grounded: current.Grounded, Preference: current.Preference, Rank: current.Rank}) == of.ChooseFirst {
		instance.CurrentDAG = candidate
		return candidate
	}
	return current
}

// recomputePreferredParent re-derives the best parent across every
// candidate currently known in d, via pairwise OF.BestParent
// reduction, and installs it (recomputing Rank; SetPreferredParent is
// called even when the incumbent wins). A candidate whose rank is not
// strictly less than our own current rank is never installed,
// preventing a rank-increasing loop; while our rank is InfiniteRank
// every candidate below InfiniteRank qualifies.
func (e *Engine) recomputePreferredParent(instance *dag.Instance, d *dag.DAG) {
	var best *dag.Parent
	for _, p := range d.Parents {
		if p.Rank == of.InfiniteRank {
			continue
		}
		if d.Rank != of.InfiniteRank && p.Rank >= d.Rank {
			continue // not strictly below our own rank
		}
		if best == nil {
			best = p
			continue
		}
		choice := instance.OF.BestParent(
			of.Parent{Rank: best.Rank, LinkMetric: best.LinkMetric},
			of.Parent{Rank: p.Rank, LinkMetric: p.LinkMetric},
			d.PreferredParent == best,
			d.PreferredParent == p,
		)
		if choice == of.ChooseSecond {
			best = p
		}
	}
	if best == nil {
		return
	}
	changed := d.PreferredParent != best
	d.SetPreferredParent(best) // also refreshes Rank from the latest metric when unchanged
	if changed && e.Events != nil {
		e.Events.ParentChanged(instance.InstanceID, best.LLAddr)
	}
}

// sendDIOUnicast replies to a unicast DIS with this instance's
// current DIO state (§4.4).
func (e *Engine) sendDIOUnicast(instance *dag.Instance, dst netip.Addr) error {
	return e.send(dst, wire.CodeDIO, e.buildDIO(instance).Encode())
}

// sendDIOMulticast is the trickle timer's callback: broadcast this
// instance's DIO to the all-RPL-nodes multicast group. Leaf nodes
// never emit multicast DIOs (§9).
func (e *Engine) sendDIOMulticast(instance *dag.Instance) {
	if instance.LeafOnly {
		return
	}
	_ = e.send(ipstack.LinkLocalAllRPLNodes, wire.CodeDIO, e.buildDIO(instance).Encode())
}

func (e *Engine) buildDIO(instance *dag.Instance) *wire.DIO {
	d := instance.CurrentDAG
	rank := of.InfiniteRank
	var dagID [16]byte
	var grounded bool
	var preference uint8
	if d != nil {
		rank = d.Rank
		dagID = d.DAGID
		grounded = d.Grounded
		preference = d.Preference
	}
	if instance.LeafOnly {
		rank = of.InfiniteRank
	}

	dio := &wire.DIO{
		InstanceID: instance.InstanceID,
		Version:    1,
		Rank:       rank,
		Grounded:   grounded,
		MOP:        uint8(instance.MOP),
		Preference: preference,
		DTSN:       uint8(instance.DTSNOut),
		DAGID:      dagID,
		DAGConfig: &wire.DAGConfig{
			IntervalDoublings:  instance.DIOIntervalDoublings,
			IntervalMin:        instance.DIOIntervalMin,
			Redundancy:         instance.DIORedundancy,
			MaxRankIncrease:    instance.MaxRankIncrease,
			MinHopRankIncrease: instance.MinHopRankIncrease,
			OCP:                instance.OF.OCP(),
			DefaultLifetime:    instance.DefaultLifetime,
			LifetimeUnit:       instance.LifetimeUnit,
		},
	}

	pathMetric := uint16(0)
	isRoot := instance.IsRoot()
	if !isRoot && d != nil && d.PreferredParent != nil {
		pathMetric = d.PreferredParent.Rank + d.PreferredParent.LinkMetric
	}
	dio.MetricContainer = instance.OF.UpdateMetricContainer(pathMetric, isRoot)
	return dio
}
