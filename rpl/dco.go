package rpl

import (
	"net/netip"

	"github.com/llnroute/rpl-node/dag"
	"github.com/llnroute/rpl-node/lollipop"
	"github.com/llnroute/rpl-node/wire"
)

// handleDCO implements §4.9's route-cleanup procedure: a DCO asks the
// receiver to drop a downstream route whose next hop has changed
// upstream. It only acts when a locally stored route exists for the
// target and the DCO's path sequence is lollipop-newer than the one
// that last refreshed the route — otherwise the cleanup is stale or
// for a route this node has already re-registered, and is ignored.
func (e *Engine) handleDCO(payload []byte, src netip.Addr) {
	dco, err := wire.ParseDCO(payload)
	if err != nil {
		e.incMalformed(wire.CodeDCO)
		return
	}
	instance := e.Instances.Get(dco.InstanceID)
	if instance == nil || dco.Target == nil {
		return
	}

	prefix := wire.Prefix(dco.Target.Prefix, dco.Target.PrefixLength)

	if own, err := e.OwnAddress(); err == nil && prefix.Addr() == own {
		// Never let an upstream node delete this node's own
		// registration; still answer if it asked for an ACK.
		if e.Metrics != nil {
			e.Metrics.IncDCOIgnored()
		}
		if dco.ACKRequested {
			e.sendAck(src, wire.CodeDCOACK, dco.InstanceID, dco.Sequence, wire.StatusNoRouteEntry)
		}
		return
	}

	route, ok := e.Routes.Get(prefix)
	if !ok {
		if e.Metrics != nil {
			e.Metrics.IncDCOIgnored()
		}
		if dco.ACKRequested {
			e.sendAck(src, wire.CodeDCOACK, dco.InstanceID, dco.Sequence, wire.StatusNoRouteEntry)
		}
		return
	}

	pathSeq := uint8(0)
	if dco.Transit != nil {
		pathSeq = dco.Transit.PathSequence
	}
	if !lollipop.GreaterThan(lollipop.Counter(pathSeq), lollipop.Counter(route.DAOPathSequence)) {
		if e.Metrics != nil {
			e.Metrics.IncDCOIgnored()
		}
		return
	}

	nextHop := route.NextHop
	d := instance.CurrentDAG
	if d != nil && d.PreferredParent != nil && !instance.IsRoot() {
		e.forwardDCOCleanup(nextHop, instance, prefix, pathSeq)
	}
	e.Routes.Remove(prefix)
	if e.Events != nil {
		e.Events.RouteChanged(prefix, nextHop, true)
	}

	if dco.ACKRequested {
		e.sendAck(src, wire.CodeDCOACK, dco.InstanceID, dco.Sequence, wire.StatusUnconditionalAccept)
	}
}

// sendDCO notifies a route's former next hop that it should drop its
// copy of the route, called from the DAO handler when a fresher
// registration replaces an existing route's next hop (§4.9).
func (e *Engine) sendDCO(instance *dag.Instance, prefix netip.Prefix, formerNextHop netip.Addr, pathSequence uint8) {
	if !formerNextHop.IsValid() {
		return
	}
	out := wire.DCOBuildParams{
		InstanceID:   instance.InstanceID,
		ACKRequested: true,
		Sequence:     uint8(instance.NextDCOSequence()),
		TargetPrefix: prefix.Addr().As16(),
		PathSequence: pathSequence,
	}
	_ = e.send(formerNextHop, wire.CodeDCO, wire.EncodeDCO(out))
}

// forwardDCOCleanup relays a DCO on to the route's next hop as part of
// accepting the cleanup (handleDCO calls it just before removing the
// route from its own table), the same direction dco_input's forwarding
// propagates in.
func (e *Engine) forwardDCOCleanup(nextHop netip.Addr, instance *dag.Instance, prefix netip.Prefix, pathSequence uint8) {
	if !nextHop.IsValid() {
		return
	}
	out := wire.DCOBuildParams{
		InstanceID:   instance.InstanceID,
		Sequence:     uint8(instance.NextDCOSequence()),
		TargetPrefix: prefix.Addr().As16(),
		PathSequence: pathSequence,
	}
	_ = e.send(nextHop, wire.CodeDCO, wire.EncodeDCO(out))
}

// handleDCOAck is intentionally inert: the reference implementation
// takes no action on a DCO-ACK's status, since by the time one
// arrives the local route has already been re-pointed at its new next
// hop.
// Only malformed-message accounting happens here.
func (e *Engine) handleDCOAck(payload []byte, _ netip.Addr) {
	if _, err := wire.ParseAck(payload); err != nil {
		e.incMalformed(wire.CodeDCOACK)
	}
}
