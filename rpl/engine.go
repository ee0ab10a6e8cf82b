// Package rpl is the control-plane engine: it owns the instance
// table, drives the wire codec, and wires together the external
// collaborators (package ipstack for IPv6/ICMPv6 I/O, neighbor for
// the neighbor cache, routetable for downward routes, linkstats for
// per-neighbor link quality, timer for trickle and retransmission,
// and whichever package of implementation is configured as the
// running objective function).
//
// Scheduling follows §5's single-threaded cooperative model: Engine
// is not safe for concurrent use by more than one goroutine at a
// time. The caller's read loop and any timer callbacks must all
// funnel through the same serialization point (see cmd and
// main.go's use of a single dispatch goroutine plus a channel).
package rpl

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/llnroute/rpl-node/dag"
	"github.com/llnroute/rpl-node/linkstats"
	"github.com/llnroute/rpl-node/neighbor"
	"github.com/llnroute/rpl-node/of"
	"github.com/llnroute/rpl-node/routetable"
	"github.com/llnroute/rpl-node/rplconf"
	"github.com/llnroute/rpl-node/timer"
	"github.com/llnroute/rpl-node/wire"
)

// Metrics is the subset of stats.Collector the engine calls into, the
// same narrow-interface-at-the-call-site pattern the teacher's
// collector package uses for saver.CacheLogger. A nil Metrics is
// valid; every call site checks before using it.
type Metrics interface {
	IncMalformed(code wire.Code)
	IncDIORecv()
	IncDAOForwarded()
	IncMemOverflow()
	IncDCOIgnored()
	IncLoopDetected()
}

// Events is the subset of rplevents.Broadcaster the engine notifies
// of parent switches, route changes, and local repairs. A nil Events
// is valid.
type Events interface {
	ParentChanged(instanceID uint8, lladdr string)
	RouteChanged(prefix netip.Prefix, nextHop netip.Addr, removed bool)
	LocalRepair(instanceID uint8, reason string)
}

// Conn is the narrow ipstack collaborator surface the engine depends
// on: transmit a message and resolve this node's own global address.
// *ipstack.Conn satisfies it; tests substitute a fake to exercise
// message handling without a real socket.
type Conn interface {
	Send(dst netip.Addr, code uint8, payload []byte) error
	OwnGlobalAddress() (netip.Addr, error)
}

// Engine is one RPL node's control plane.
type Engine struct {
	Config rplconf.Config

	Instances dag.Instances
	Routes    *routetable.Table
	Neighbors *neighbor.Cache
	LinkStats *linkstats.Store
	Conn      Conn
	Timers    *timer.Scheduler

	Metrics Metrics
	Events  Events

	// Actions serializes work that originates off the caller's main
	// dispatch goroutine — trickle and DAO retransmit timer fires — onto
	// that same goroutine, satisfying the single-threaded scheduling
	// contract described above. A caller's run loop must drain it
	// alongside its inbound-message source; see cmd and main.go.
	Actions chan func()

	ownAddr netip.Addr

	// pendingForwards correlates an outstanding forwarded DAO's
	// outbound sequence number back to the route it was forwarded on
	// behalf of, so a non-matching DAO-ACK (§4.8's second case) can be
	// rewritten and relayed to the original child.
	pendingForwards map[uint8]*routetable.Route
}

// New constructs an Engine bound to conn, with empty instance/route/
// neighbor/link-stats tables.
func New(cfg rplconf.Config, conn Conn) *Engine {
	return &Engine{
		Config:          cfg,
		Instances:       dag.NewInstances(),
		Routes:          routetable.New(),
		Neighbors:       neighbor.New(cfg.NeighborCacheCapacity),
		LinkStats:       linkstats.NewStore(),
		Conn:            conn,
		Timers:          timer.NewScheduler(),
		Actions:         make(chan func(), 16),
		pendingForwards: make(map[uint8]*routetable.Route),
	}
}

// Enqueue schedules fn to run on whichever goroutine drains e.Actions,
// the caller's single dispatch goroutine. Used by timer callbacks that
// fire on their own goroutine and need to touch engine state.
func (e *Engine) Enqueue(fn func()) {
	e.Actions <- fn
}

// CreateInstance installs a fresh instance for id with objFn as its
// objective function, arming its trickle timer (suspended, since no
// DAG has been joined yet).
func (e *Engine) CreateInstance(id uint8, objFn of.OF) *dag.Instance {
	instance := e.Instances.Create(id, objFn)
	instance.MinHopRankIncrease = e.Config.MinHopRankIncrease
	instance.MaxRankIncrease = e.Config.MaxRankIncrease
	instance.DIOIntervalMin = e.Config.DIOIntervalMin
	instance.DIOIntervalDoublings = e.Config.DIOIntervalDoublings
	instance.DIORedundancy = e.Config.DIORedundancy
	instance.DefaultLifetime = e.Config.DefaultLifetime
	instance.LifetimeUnit = e.Config.LifetimeUnit
	instance.LeafOnly = e.Config.LeafOnly
	instance.Trickle = timer.NewTrickle(
		dioIntervalMin(e.Config.DIOIntervalMin),
		e.Config.DIOIntervalDoublings,
		int(e.Config.DIORedundancy),
		func() { e.Enqueue(func() { e.sendDIOMulticast(instance) }) },
	)
	return instance
}

// OwnAddress returns this node's cached global address, resolving it
// via the IP stack collaborator the first time it's needed.
func (e *Engine) OwnAddress() (netip.Addr, error) {
	if e.ownAddr.IsValid() {
		return e.ownAddr, nil
	}
	addr, err := e.Conn.OwnGlobalAddress()
	if err != nil {
		return netip.Addr{}, err
	}
	e.ownAddr = addr
	return addr, nil
}

// neighborKey derives the neighbor-cache / parent key for an IPv6
// address. The reference implementation keys on a link-layer
// address; absent real L2 addressing here, the link-local IPv6
// address — which is itself derived 1:1 from the interface's
// hardware identity — plays the same role.
func neighborKey(addr netip.Addr) string {
	return addr.String()
}

// dioIntervalMin converts DAG_CONF's DIOIntervalDoublings-style
// exponent encoding (RFC 6550 §6.7.6: Imin = 2^DIOIntervalMin
// milliseconds) into a concrete duration.
func dioIntervalMin(exp uint8) time.Duration {
	return time.Duration(1<<exp) * time.Millisecond
}

// Dispatch decodes one inbound ICMPv6 RPL message and routes it to
// the matching handler. Malformed messages are counted and dropped,
// never propagated as an error the caller must interpret.
func (e *Engine) Dispatch(code wire.Code, payload []byte, src, dst netip.Addr) {
	switch code {
	case wire.CodeDIS:
		e.handleDIS(payload, src, dst)
	case wire.CodeDIO:
		e.handleDIO(payload, src)
	case wire.CodeDAO:
		e.handleDAO(payload, src)
	case wire.CodeDAOACK:
		e.handleDAOAck(payload, src)
	case wire.CodeDCO:
		e.handleDCO(payload, src)
	case wire.CodeDCOACK:
		e.handleDCOAck(payload, src)
	default:
		e.incMalformed(code)
	}
}

func (e *Engine) incMalformed(code wire.Code) {
	if e.Metrics != nil {
		e.Metrics.IncMalformed(code)
	}
}

func (e *Engine) send(dst netip.Addr, code wire.Code, payload []byte) error {
	if err := e.Conn.Send(dst, uint8(code), payload); err != nil {
		return fmt.Errorf("rpl: send %s to %s: %w", code, dst, err)
	}
	return nil
}
