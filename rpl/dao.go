package rpl

import (
	"net/netip"
	"time"

	"github.com/llnroute/rpl-node/dag"
	"github.com/llnroute/rpl-node/neighbor"
	"github.com/llnroute/rpl-node/routetable"
	"github.com/llnroute/rpl-node/wire"
)

// handleDAO dispatches a decoded DAO to the storing- or
// non-storing-mode procedure per the instance's configured MOP
// (§4.6/§4.7). A DAO for an instance this node does not run is an
// "unknown instance" condition (§7): discard.
func (e *Engine) handleDAO(payload []byte, src netip.Addr) {
	dao, err := wire.ParseDAO(payload)
	if err != nil {
		e.incMalformed(wire.CodeDAO)
		return
	}
	instance := e.Instances.Get(dao.InstanceID)
	if instance == nil {
		return
	}
	if dao.Target == nil || dao.Transit == nil {
		e.incMalformed(wire.CodeDAO)
		return
	}

	if instance.MOP == dag.ModeNonStoring {
		e.handleDAONonStoring(instance, dao, src)
		return
	}
	e.handleDAOStoring(instance, dao, src)
}

// handleDAOStoring is dao_input_storing: loop detection, neighbor
// admission, No-Path withdrawal, route install/refresh, and
// forwarding toward the preferred parent.
func (e *Engine) handleDAOStoring(instance *dag.Instance, daoMsg *wire.DAO, src netip.Addr) {
	key := neighborKey(src)
	d := instance.CurrentDAG

	if d != nil {
		if parent := d.Parent(key); parent != nil {
			if parent.Rank < d.Rank {
				parent.Poison()
				if e.Metrics != nil {
					e.Metrics.IncLoopDetected()
				}
				return // never ACK a detected loop
			}
		}
	}

	prefix := wire.Prefix(daoMsg.Target.Prefix, daoMsg.Target.PrefixLength)
	isRoot := instance.IsRoot()

	if _, ok := e.Neighbors.Add(src, key, neighbor.ReasonDAOChild); !ok {
		if e.Metrics != nil {
			e.Metrics.IncMemOverflow()
		}
		status := wire.StatusUnableToAccept
		if isRoot {
			status = wire.StatusUnableToAddRouteAtRoot
		}
		if daoMsg.ACKRequested {
			e.sendAck(src, wire.CodeDAOACK, daoMsg.InstanceID, daoMsg.Sequence, uint8(status))
		}
		return
	}

	noPath := daoMsg.Transit.Lifetime == 0
	route, existed := e.Routes.Get(prefix)

	if noPath {
		e.handleNoPathDAO(instance, daoMsg, src, key, prefix, route, existed)
		return
	}

	var oldNextHop netip.Addr
	hadOldNextHop := false
	if existed && route.NextHop != src {
		oldNextHop = route.NextHop
		hadOldNextHop = true
	}

	if !existed {
		route = &routetable.Route{Prefix: prefix}
	}
	route.NextHop = src
	route.Lifetime = e.Config.AdvertisedLifetimeSeconds()
	route.ExpiresAt = time.Now().Add(time.Duration(route.Lifetime) * time.Second)
	route.NoPath = false
	route.DAOPathSequence = daoMsg.Transit.PathSequence
	e.Routes.Add(route)
	if e.Events != nil {
		e.Events.RouteChanged(prefix, src, false)
	}

	shouldACK := daoMsg.ACKRequested && ((!route.Pending && route.DAOSeqnoIn == daoMsg.Sequence) || isRoot)

	if d != nil && d.PreferredParent != nil && !isRoot {
		e.forwardDAO(instance, daoMsg, route)
	} else if daoMsg.ACKRequested {
		shouldACK = true
	}

	if shouldACK {
		e.sendAck(src, wire.CodeDAOACK, daoMsg.InstanceID, daoMsg.Sequence, wire.StatusUnconditionalAccept)
	}

	if hadOldNextHop {
		e.sendDCO(instance, prefix, oldNextHop, daoMsg.Transit.PathSequence)
	}
}

// handleNoPathDAO withdraws a route per §4.6/§8 scenario 3: only acts
// when the withdrawal matches the currently stored route's next hop
// and it isn't already marked NOPATH; forwards a copy toward the
// preferred parent with a freshly allocated sequence, and always ACKs
// when K is set (regardless of match), matching the reference's
// unconditional-accept-on-request behavior for No-Path DAOs.
func (e *Engine) handleNoPathDAO(instance *dag.Instance, daoMsg *wire.DAO, src netip.Addr, key string, prefix netip.Prefix, route *routetable.Route, existed bool) {
	if existed && route.NextHop == src && !route.NoPath {
		route.NoPath = true
		route.NoPathRemovalDeadline = time.Now().Add(e.Config.NoPathRemovalDelay)
		e.Routes.Add(route)
		if e.Events != nil {
			e.Events.RouteChanged(prefix, route.NextHop, true)
		}

		d := instance.CurrentDAG
		if d != nil && d.PreferredParent != nil && !instance.IsRoot() {
			e.forwardDAO(instance, daoMsg, route)
		}
	}
	if daoMsg.ACKRequested {
		e.sendAck(src, wire.CodeDAOACK, daoMsg.InstanceID, daoMsg.Sequence, wire.StatusUnconditionalAccept)
	}
}

// forwardDAO relays daoMsg toward the preferred parent, implementing
// prepare_for_dao_fwd: a retransmission (matching dao_seqno_in) reuses
// the route's existing outgoing sequence; anything else allocates a
// fresh one from the instance's DAO sequence counter.
func (e *Engine) forwardDAO(instance *dag.Instance, daoMsg *wire.DAO, route *routetable.Route) {
	d := instance.CurrentDAG
	if d == nil || d.PreferredParent == nil {
		return
	}
	parentAddr, err := netip.ParseAddr(d.PreferredParent.LLAddr)
	if err != nil {
		return
	}

	isRetransmission := route.Pending && route.DAOSeqnoIn == daoMsg.Sequence
	var outSeq uint8
	if isRetransmission {
		outSeq = route.DAOSeqnoOut
	} else {
		instance.NextDAOSequence()
		outSeq = uint8(instance.DAOSequence())
		route.DAOSeqnoIn = daoMsg.Sequence
		route.DAOSeqnoOut = outSeq
		route.Pending = true
	}
	e.pendingForwards[outSeq] = route

	out := wire.DAOBuildParams{
		InstanceID:    daoMsg.InstanceID,
		SpecifyDAG:    daoMsg.DAGIDPresent,
		DAGID:         daoMsg.DAGID,
		ACKRequested:  daoMsg.ACKRequested,
		Sequence:      outSeq,
		TargetPrefix:  daoMsg.Target.Prefix,
		TargetLength:  daoMsg.Target.PrefixLength,
		Storing:       true,
		PathSequence:  daoMsg.Transit.PathSequence,
		Lifetime:      daoMsg.Transit.Lifetime,
	}
	if e.Metrics != nil {
		e.Metrics.IncDAOForwarded()
	}
	_ = e.send(parentAddr, wire.CodeDAO, wire.Encode(out))
}

// handleDAONonStoring registers or forwards the DAO unchanged toward
// the root: in non-storing mode only the root installs source-routed
// state, and every other node on the path simply relays the message
// toward its preferred parent without modifying its sequence number
// (RFC 6550 §6.7.8's non-storing-mode relay behavior).
func (e *Engine) handleDAONonStoring(instance *dag.Instance, daoMsg *wire.DAO, src netip.Addr) {
	key := neighborKey(src)
	if _, ok := e.Neighbors.Add(src, key, neighbor.ReasonDAOChild); !ok {
		if e.Metrics != nil {
			e.Metrics.IncMemOverflow()
		}
		return
	}

	if instance.IsRoot() {
		prefix := wire.Prefix(daoMsg.Target.Prefix, daoMsg.Target.PrefixLength)
		var nextHop netip.Addr
		if daoMsg.Transit.HasParent {
			nextHop, _ = netip.AddrFromSlice(daoMsg.Transit.ParentAddress[:])
		}
		route := &routetable.Route{
			Prefix:          prefix,
			NextHop:         nextHop,
			Lifetime:        e.Config.AdvertisedLifetimeSeconds(),
			DAOPathSequence: daoMsg.Transit.PathSequence,
			NoPath:          daoMsg.Transit.Lifetime == 0,
		}
		e.Routes.Add(route)
		if e.Events != nil {
			e.Events.RouteChanged(prefix, nextHop, route.NoPath)
		}
		if daoMsg.ACKRequested {
			e.sendAck(src, wire.CodeDAOACK, daoMsg.InstanceID, daoMsg.Sequence, wire.StatusUnconditionalAccept)
		}
		return
	}

	d := instance.CurrentDAG
	if d == nil || d.PreferredParent == nil {
		return
	}
	parentAddr, err := netip.ParseAddr(d.PreferredParent.LLAddr)
	if err != nil {
		return
	}
	if e.Metrics != nil {
		e.Metrics.IncDAOForwarded()
	}
	// Non-storing relay carries the registration through unmodified
	// (RFC 6550 §6.7.8 does not allocate a fresh sequence per hop the
	// way storing-mode forwarding does); re-encoding from the decoded
	// fields reproduces the same wire shape the sender emitted.
	out := wire.DAOBuildParams{
		InstanceID:    daoMsg.InstanceID,
		SpecifyDAG:    daoMsg.DAGIDPresent,
		DAGID:         daoMsg.DAGID,
		ACKRequested:  daoMsg.ACKRequested,
		Sequence:      daoMsg.Sequence,
		TargetPrefix:  daoMsg.Target.Prefix,
		TargetLength:  daoMsg.Target.PrefixLength,
		Storing:       false,
		PathSequence:  daoMsg.Transit.PathSequence,
		Lifetime:      daoMsg.Transit.Lifetime,
		ParentAddress: daoMsg.Transit.ParentAddress,
	}
	_ = e.send(parentAddr, wire.CodeDAO, wire.Encode(out))
}

// sendAck builds and sends a DAO-ACK or DCO-ACK, the pair sharing a
// wire shape (§6): InstanceID, Reserved, Sequence, Status.
func (e *Engine) sendAck(dst netip.Addr, code wire.Code, instanceID, sequence, status uint8) {
	ack := &wire.Ack{InstanceID: instanceID, Sequence: sequence, Status: status}
	_ = e.send(dst, code, ack.Encode())
}

// sendDAO is dao_output: the node's own prefix registration, arming
// the retransmission state machine (§4.8).
func (e *Engine) sendDAO(instance *dag.Instance, targetPrefix [16]byte, targetLength uint8, lifetime uint8) {
	d := instance.CurrentDAG
	if d == nil || d.PreferredParent == nil {
		return
	}
	parentAddr, err := netip.ParseAddr(d.PreferredParent.LLAddr)
	if err != nil {
		return
	}

	instance.NextDAOSequence()
	seq := uint8(instance.DAOSequence())
	instance.MyPathSequence = uint8(instance.NextPathSequence())

	out := wire.DAOBuildParams{
		InstanceID:   instance.InstanceID,
		ACKRequested: true,
		Sequence:     seq,
		TargetPrefix: targetPrefix,
		TargetLength: targetLength,
		Storing:      instance.MOP != dag.ModeNonStoring,
		PathSequence: instance.MyPathSequence,
		Lifetime:     lifetime,
	}
	if !out.Storing {
		if addr, err := e.OwnAddress(); err == nil {
			out.ParentAddress = addr.As16()
		}
	}

	if lifetime != 0 {
		instance.MyDAOSeqno = seq
		instance.MyDAOTransmissions = 1
		e.armRetransmit(instance)
	}

	_ = e.send(parentAddr, wire.CodeDAO, wire.Encode(out))
}
