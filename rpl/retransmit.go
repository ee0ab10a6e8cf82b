package rpl

import (
	"net/netip"

	"github.com/llnroute/rpl-node/dag"
	"github.com/llnroute/rpl-node/timer"
	"github.com/llnroute/rpl-node/wire"
)

// armRetransmit (re)arms instance's retransmit timer for the node's
// own outstanding prefix registration, per §4.8's "set(retransmit,
// DAO_RETRANSMISSION_TIMEOUT)". A prior pending timer is stopped first
// so re-arming is always idempotent.
func (e *Engine) armRetransmit(instance *dag.Instance) {
	if instance.RetransmitArmed {
		e.Timers.Stop(instance.RetransmitHandle)
	}
	delay := timer.RetransmitDelay(e.Config.DAORetransmissionTimeout)
	instance.RetransmitHandle = e.Timers.Set(delay, func() { e.Enqueue(func() { e.retransmitTick(instance) }) })
	instance.RetransmitArmed = true
}

// retransmitTick fires on retransmit-timer expiry with no DAO-ACK
// received. It either re-sends the node's registration with the same
// sequence and re-arms, or — once MaxRetransmissions consecutive
// attempts have gone unanswered — penalizes the preferred parent's
// link metric and triggers local repair, unless the node is
// configured for the legacy no-DAO-ACK compatibility mode, in which
// case it gives up silently (§4.8, §9).
func (e *Engine) retransmitTick(instance *dag.Instance) {
	if !instance.RetransmitArmed {
		return // a DAO-ACK stopped the timer after this tick was queued
	}
	instance.RetransmitArmed = false

	if instance.MyDAOTransmissions >= e.Config.MaxRetransmissions {
		if e.Config.LegacyNoDAOACK() {
			return
		}
		e.applyDAOAckCallback(instance, wire.StatusTimeout)
		e.localRepair(instance, "dao-ack timeout")
		return
	}

	instance.MyDAOTransmissions++
	d := instance.CurrentDAG
	if d == nil || d.PreferredParent == nil {
		return
	}
	parentAddr, err := netip.ParseAddr(d.PreferredParent.LLAddr)
	if err != nil {
		return
	}

	out := wire.DAOBuildParams{
		InstanceID:   instance.InstanceID,
		ACKRequested: true,
		Sequence:     instance.MyDAOSeqno,
		Storing:      instance.MOP != dag.ModeNonStoring,
		PathSequence: instance.MyPathSequence, // same registration as first sent
		Lifetime:     instance.DefaultLifetime,
	}
	if d.Prefix.Length > 0 {
		out.TargetPrefix = d.Prefix.Prefix
		out.TargetLength = d.Prefix.Length
	}
	_ = e.send(parentAddr, wire.CodeDAO, wire.Encode(out))

	delay := timer.RetransmitDelay(e.Config.DAORetransmissionTimeout)
	instance.RetransmitHandle = e.Timers.Set(delay, func() { e.Enqueue(func() { e.retransmitTick(instance) }) })
	instance.RetransmitArmed = true
}

// handleDAOAck implements §4.8's two cases: an ACK matching the
// node's own outstanding registration stops the retransmit timer and
// updates HasDownwardRoute; an ACK matching a sequence this node
// allocated while forwarding someone else's DAO is rewritten back
// onto the child's original sequence and relayed.
func (e *Engine) handleDAOAck(payload []byte, src netip.Addr) {
	ack, err := wire.ParseAck(payload)
	if err != nil {
		e.incMalformed(wire.CodeDAOACK)
		return
	}
	instance := e.Instances.Get(ack.InstanceID)
	if instance == nil {
		return
	}

	if instance.RetransmitArmed && ack.Sequence == instance.MyDAOSeqno {
		e.Timers.Stop(instance.RetransmitHandle)
		instance.RetransmitArmed = false
		instance.HasDownwardRoute = ack.Status < wire.StatusUnableToAccept
		e.applyDAOAckCallback(instance, ack.Status)
		if ack.Status >= wire.StatusUnableToAccept && e.Config.RepairOnDAONack {
			e.localRepair(instance, "dao nack")
		}
		return
	}

	route, ok := e.pendingForwards[ack.Sequence]
	if !ok {
		return
	}
	delete(e.pendingForwards, ack.Sequence)
	route.Pending = false

	e.sendAck(src, wire.CodeDAOACK, ack.InstanceID, route.DAOSeqnoIn, ack.Status)

	if ack.Status >= wire.StatusUnableToAccept {
		e.Routes.Remove(route.Prefix)
		if e.Events != nil {
			e.Events.RouteChanged(route.Prefix, route.NextHop, true)
		}
	}
}

// applyDAOAckCallback folds the objective function's reaction to a
// DAO-ACK/NACK/timeout into the preferred parent's link metric, via
// linkstats.Penalize.
func (e *Engine) applyDAOAckCallback(instance *dag.Instance, status uint8) {
	if instance.OF == nil {
		return
	}
	penalize, syntheticFailures := instance.OF.DAOAckCallback(status)
	d := instance.CurrentDAG
	if !penalize || d == nil || d.PreferredParent == nil {
		return
	}
	lladdr := d.PreferredParent.LLAddr
	d.PreferredParent.LinkMetric = e.LinkStats.Penalize(lladdr, instance.OF, syntheticFailures)
}

// localRepair resets every parent in instance's current DAG and
// restarts the trickle timer from Imin, the global-repair-free
// recovery path §4.8/§8 call for when the preferred parent is lost.
func (e *Engine) localRepair(instance *dag.Instance, reason string) {
	d := instance.CurrentDAG
	if d != nil {
		d.ClearPreferredParent()
		for _, p := range d.Parents {
			p.Stale = true
		}
		d.PurgeStale()
	}
	if instance.Trickle != nil {
		instance.Trickle.Reset()
	}
	if e.Events != nil {
		e.Events.LocalRepair(instance.InstanceID, reason)
	}
}
