// Package dag holds the DODAG data model: Instance, DAG, and Parent
// records and the invariants that bind them (§3 of the design this
// module implements). It owns no network or timer I/O; package rpl
// drives these types from message handlers.
package dag

import (
	"github.com/llnroute/rpl-node/lollipop"
	"github.com/llnroute/rpl-node/of"
	"github.com/llnroute/rpl-node/timer"
)

// ModeOfOperation enumerates RFC 6550 §6.3.1's MOP field.
type ModeOfOperation uint8

const (
	ModeNoDownwardRoutes ModeOfOperation = 0
	ModeNonStoring       ModeOfOperation = 1
	ModeStoring          ModeOfOperation = 2
	ModeStoringMulticast ModeOfOperation = 3
)

// PrefixInfo is the prefix a DAG advertises in its DIOs, decoded from
// or destined for a PREFIX_INFO suboption.
type PrefixInfo struct {
	Length   uint8
	Flags    uint8
	Lifetime uint32
	Prefix   [16]byte
}

// MetricContainer mirrors wire.MetricContainer; kept as a local type
// so package dag does not need to import wire just to store a field
// it treats opaquely.
type MetricContainer struct {
	Type       uint8
	Flags      uint8
	Aggregate  uint8
	Precedence uint8
	Length     uint8
	ETX        uint16
	EnergyFlags uint8
	EnergyEst   uint8
}

// Instance is one RPL instance: one objective function, one active
// DAG, and the node-wide sequence counters and DAO retransmission
// bookkeeping RFC 6550 scopes per instance.
type Instance struct {
	InstanceID uint8
	OF         of.OF
	CurrentDAG *DAG

	MOP ModeOfOperation

	DIOIntervalMin        uint8
	DIOIntervalDoublings  uint8
	DIORedundancy         uint8
	MinHopRankIncrease    uint16
	MaxRankIncrease       uint16
	DefaultLifetime       uint8
	LifetimeUnit          uint16

	DTSNOut lollipop.Counter
	Metric  MetricContainer

	daoSequence lollipop.Counter
	dcoSequence lollipop.Counter
	pathSequence lollipop.Counter

	// DAO retransmission state machine (§4.8): tracks the node's own
	// outstanding prefix registration, not any forwarded DAO.
	MyDAOSeqno         uint8
	MyPathSequence     uint8
	MyDAOTransmissions int
	HasDownwardRoute   bool
	RetransmitHandle   timer.Handle
	RetransmitArmed    bool

	// Trickle is this instance's DIO scheduling timer; package rpl
	// resets it on inconsistency and never suspends it. It does not
	// run until its first Reset.
	Trickle *timer.Trickle

	LeafOnly bool
}

// NewInstance creates an Instance with fresh lollipop counters in
// their initial (linear/startup) state.
func NewInstance(id uint8, objFn of.OF) *Instance {
	return &Instance{
		InstanceID:   id,
		OF:           objFn,
		DTSNOut:      lollipop.NewCounter(),
		daoSequence:  lollipop.NewCounter(),
		dcoSequence:  lollipop.NewCounter(),
		pathSequence: lollipop.NewCounter(),
	}
}

// NextDAOSequence increments and returns the instance's DAO sequence
// counter (RPL_LOLLIPOP_INCREMENT(dao_sequence) in the reference).
func (in *Instance) NextDAOSequence() lollipop.Counter {
	in.daoSequence = in.daoSequence.Increment()
	return in.daoSequence
}

// DAOSequence returns the current DAO sequence without advancing it.
func (in *Instance) DAOSequence() lollipop.Counter {
	return in.daoSequence
}

// NextDCOSequence increments and returns the instance's DCO sequence
// counter.
func (in *Instance) NextDCOSequence() lollipop.Counter {
	in.dcoSequence = in.dcoSequence.Increment()
	return in.dcoSequence
}

// NextPathSequence increments and returns the instance's own Path
// Sequence, carried in the TRANSIT option of a self-originated DAO
// registration (distinct from the DAO message's own Sequence field).
func (in *Instance) NextPathSequence() lollipop.Counter {
	in.pathSequence = in.pathSequence.Increment()
	return in.pathSequence
}

// IsRoot reports whether this instance's current DAG considers this
// node the root (rank == the OF-defined root rank, conventionally 0).
func (in *Instance) IsRoot() bool {
	return in.CurrentDAG != nil && in.CurrentDAG.Rank == RootRank
}

// RootRank is the rank a DODAG root always advertises.
const RootRank uint16 = 0

// DAG is one Destination-Oriented DAG within an Instance, identified
// by (InstanceID, DAGID).
type DAG struct {
	Instance *Instance
	DAGID    [16]byte
	Version  lollipop.Counter

	Rank       uint16
	Grounded   bool
	Preference uint8
	Joined     bool

	PreferredParent *Parent
	Parents         map[string]*Parent // keyed by link-layer address

	Prefix PrefixInfo
}

// NewDAG creates an empty DAG owned by instance, with no parents and
// an infinite rank until a preferred parent is chosen or this node is
// the root.
func NewDAG(instance *Instance, dagID [16]byte) *DAG {
	return &DAG{
		Instance: instance,
		DAGID:    dagID,
		Version:  lollipop.NewCounter(),
		Rank:     of.InfiniteRank,
		Parents:  make(map[string]*Parent),
	}
}

// Parent is one candidate or current parent within a DAG, keyed into
// the neighbor cache by its link-layer address.
type Parent struct {
	DAG        *DAG
	LLAddr     string
	Rank       uint16
	LinkMetric uint16
	Updated    bool
	Stale      bool
}

// AddParent inserts or returns the existing Parent for lladdr.
func (d *DAG) AddParent(lladdr string) *Parent {
	if p, ok := d.Parents[lladdr]; ok {
		return p
	}
	p := &Parent{DAG: d, LLAddr: lladdr}
	d.Parents[lladdr] = p
	return p
}

// Parent returns the Parent keyed by lladdr, or nil.
func (d *DAG) Parent(lladdr string) *Parent {
	return d.Parents[lladdr]
}

// RemoveParent detaches and deletes a Parent from its DAG, clearing
// PreferredParent first if it was preferred (the non-dangling-pointer
// invariant).
func (d *DAG) RemoveParent(lladdr string) {
	p, ok := d.Parents[lladdr]
	if !ok {
		return
	}
	if d.PreferredParent == p {
		d.PreferredParent = nil
		d.Rank = of.InfiniteRank
	}
	delete(d.Parents, lladdr)
}

// Poison marks a parent as unreachable (RANK := InfiniteRank) and
// updated, per the loop-detection and local-repair procedures; it
// does not remove the parent from the arena — the caller purges
// poisoned parents separately once it is safe to do so.
func (p *Parent) Poison() {
	p.Rank = of.InfiniteRank
	p.Updated = true
	if p.DAG.PreferredParent == p {
		p.DAG.PreferredParent = nil
		p.DAG.Rank = of.InfiniteRank
	}
}

// PurgeStale removes every parent flagged Stale from the DAG.
func (d *DAG) PurgeStale() {
	for lladdr, p := range d.Parents {
		if p.Stale {
			if d.PreferredParent == p {
				d.PreferredParent = nil
			}
			delete(d.Parents, lladdr)
		}
	}
}

// SetPreferredParent installs p as the DAG's preferred parent and
// recomputes Rank via the instance's objective function, maintaining
// the DAG.rank == OF.rank_via_parent(preferred_parent) invariant. It
// does not itself refuse a parent whose rank is not strictly less than
// ours; that check is left to the caller (package rpl's
// recomputePreferredParent).
func (d *DAG) SetPreferredParent(p *Parent) {
	d.PreferredParent = p
	d.recomputeRank()
}

// ClearPreferredParent drops the preferred parent (e.g. on poisoning)
// and sets Rank to InfiniteRank.
func (d *DAG) ClearPreferredParent() {
	d.PreferredParent = nil
	d.Rank = of.InfiniteRank
}

func (d *DAG) recomputeRank() {
	if d.PreferredParent == nil {
		d.Rank = of.InfiniteRank
		return
	}
	objFn := d.Instance.OF
	d.Rank = objFn.CalculateRank(true, of.Parent{
		Rank:       d.PreferredParent.Rank,
		LinkMetric: d.PreferredParent.LinkMetric,
	}, 0)
}

// Instances is an owning arena of Instance records keyed by
// instance_id, replacing the reference implementation's fixed-size
// instance_table + used-flag with a plain Go map.
type Instances map[uint8]*Instance

// NewInstances returns an empty instance arena.
func NewInstances() Instances {
	return make(Instances)
}

// Get returns the Instance for id, or nil if none exists (an "unknown
// instance" condition per the error-handling taxonomy).
func (in Instances) Get(id uint8) *Instance {
	return in[id]
}

// Create installs a new Instance for id, replacing any existing one.
func (in Instances) Create(id uint8, objFn of.OF) *Instance {
	instance := NewInstance(id, objFn)
	in[id] = instance
	return instance
}

// Delete removes an instance entirely (global leave).
func (in Instances) Delete(id uint8) {
	delete(in, id)
}
