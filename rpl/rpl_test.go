package rpl

import (
	"net/netip"
	"testing"
	"time"

	"github.com/llnroute/rpl-node/dag"
	"github.com/llnroute/rpl-node/neighbor"
	"github.com/llnroute/rpl-node/of/of0"
	"github.com/llnroute/rpl-node/rplconf"
	"github.com/llnroute/rpl-node/timer"
	"github.com/llnroute/rpl-node/wire"
)

// fakeConn is a recording stand-in for *ipstack.Conn, letting tests
// exercise message handling without a real socket.
type fakeConn struct {
	sent    []sentMsg
	ownAddr netip.Addr
	ownErr  error
}

type sentMsg struct {
	dst     netip.Addr
	code    uint8
	payload []byte
}

func (f *fakeConn) Send(dst netip.Addr, code uint8, payload []byte) error {
	f.sent = append(f.sent, sentMsg{dst, code, payload})
	return nil
}

func (f *fakeConn) OwnGlobalAddress() (netip.Addr, error) {
	return f.ownAddr, f.ownErr
}

func (f *fakeConn) sentCodes(code wire.Code) []sentMsg {
	var out []sentMsg
	for _, m := range f.sent {
		if m.code == uint8(code) {
			out = append(out, m)
		}
	}
	return out
}

func testEngine() (*Engine, *fakeConn) {
	conn := &fakeConn{ownAddr: netip.MustParseAddr("2001:db8::1")}
	e := New(rplconf.Default(), conn)
	return e, conn
}

var parentAddr = netip.MustParseAddr("fe80::2")

func TestHandleDIOJoinsDAGAndSetsPreferredParent(t *testing.T) {
	e, _ := testEngine()

	dio := &wire.DIO{
		InstanceID: 1,
		Rank:       256,
		DAGConfig:  &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256},
	}
	dio.DAGID[0] = 0xaa

	e.handleDIO(dio.Encode(), parentAddr)

	instance := e.Instances.Get(1)
	if instance == nil {
		t.Fatal("expected instance 1 to be created")
	}
	if instance.CurrentDAG == nil {
		t.Fatal("expected a DAG to be joined")
	}
	if instance.CurrentDAG.PreferredParent == nil {
		t.Fatal("expected a preferred parent to be selected")
	}
	if got := instance.CurrentDAG.PreferredParent.LLAddr; got != neighborKey(parentAddr) {
		t.Errorf("preferred parent = %s, want %s", got, neighborKey(parentAddr))
	}
	if instance.CurrentDAG.Rank <= dio.Rank {
		t.Errorf("expected computed rank to exceed parent's advertised rank (%d), got %d", dio.Rank, instance.CurrentDAG.Rank)
	}
	if !e.Neighbors.Has(neighborKey(parentAddr)) {
		t.Error("expected sender to be recorded in the neighbor cache")
	}
}

func TestHandleDIOPrefersLowerRankParent(t *testing.T) {
	e, _ := testEngine()
	instance := e.CreateInstance(1, of0.New(256))

	highRankParent := netip.MustParseAddr("fe80::10")
	lowRankParent := netip.MustParseAddr("fe80::20")

	dioHigh := &wire.DIO{InstanceID: 1, Rank: 1024, DAGConfig: &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256}}
	e.handleDIO(dioHigh.Encode(), highRankParent)

	dioLow := &wire.DIO{InstanceID: 1, Rank: 256, DAGConfig: &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256}}
	e.handleDIO(dioLow.Encode(), lowRankParent)

	if instance.CurrentDAG.PreferredParent == nil {
		t.Fatal("expected a preferred parent")
	}
	if got := instance.CurrentDAG.PreferredParent.LLAddr; got != neighborKey(lowRankParent) {
		t.Errorf("preferred parent = %s, want the lower-rank candidate %s", got, neighborKey(lowRankParent))
	}
}

func TestHandleDISMulticastResetsTrickle(t *testing.T) {
	e, _ := testEngine()
	instance := e.CreateInstance(1, of0.New(256))

	// A trickle timer only starts running on its first Reset, so a
	// fire from this never-reset, fast timer shows the DIS reset it.
	fired := make(chan struct{}, 1)
	instance.Trickle = timer.NewTrickle(10*time.Millisecond, 1, 10, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer instance.Trickle.Suspend()

	dis := wire.DIS{}
	e.handleDIS(dis.Encode(), parentAddr, netip.MustParseAddr("ff02::1a"))

	if instance.Trickle == nil {
		t.Fatal("trickle timer should not be nil")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("multicast DIS did not reset the trickle timer")
	}
}

func TestHandleDAOStoringInstallsRouteAndForwards(t *testing.T) {
	e, conn := testEngine()
	instance := e.CreateInstance(1, of0.New(256))
	instance.MOP = dag.ModeStoring

	dio := &wire.DIO{InstanceID: 1, Rank: 256, DAGConfig: &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256}}
	e.handleDIO(dio.Encode(), parentAddr)

	childAddr := netip.MustParseAddr("fe80::30")
	target := [16]byte{0x20, 0x01}
	daoPayload := wire.DAOBuildParams{
		InstanceID:   1,
		ACKRequested: true,
		Sequence:     200,
		TargetPrefix: target,
		TargetLength: 64,
		Storing:      true,
		PathSequence: 1,
		Lifetime:     30,
	}

	e.handleDAO(wire.Encode(daoPayload), childAddr)

	prefix := wire.Prefix(target, 64)
	route, ok := e.Routes.Get(prefix)
	if !ok {
		t.Fatal("expected a route to be installed")
	}
	if route.NextHop != childAddr {
		t.Errorf("route next hop = %s, want %s", route.NextHop, childAddr)
	}
	if len(conn.sentCodes(wire.CodeDAO)) == 0 {
		t.Error("expected the DAO to be forwarded toward the preferred parent")
	}
	if instance == nil {
		t.Fatal("unreachable")
	}
}

func TestHandleDAORootAlwaysAcks(t *testing.T) {
	e, conn := testEngine()
	instance := e.CreateInstance(1, of0.New(256))
	instance.MOP = dag.ModeStoring
	instance.CurrentDAG = &dag.DAG{Rank: dag.RootRank, Parents: make(map[string]*dag.Parent)}

	childAddr := netip.MustParseAddr("fe80::30")
	target := [16]byte{0x20, 0x01}
	daoPayload := wire.DAOBuildParams{
		InstanceID: 1, ACKRequested: true, Sequence: 5,
		TargetPrefix: target, TargetLength: 64, Storing: true, Lifetime: 30,
	}
	e.handleDAO(wire.Encode(daoPayload), childAddr)

	if len(conn.sentCodes(wire.CodeDAOACK)) != 1 {
		t.Fatalf("expected exactly one DAO-ACK from the root, got %d", len(conn.sentCodes(wire.CodeDAOACK)))
	}
	if len(conn.sentCodes(wire.CodeDAO)) != 0 {
		t.Error("root must not forward a DAO further upward")
	}
}

func TestHandleDAONoPathWithdrawsRoute(t *testing.T) {
	e, _ := testEngine()
	instance := e.CreateInstance(1, of0.New(256))
	instance.MOP = dag.ModeStoring
	dio := &wire.DIO{InstanceID: 1, Rank: 256, DAGConfig: &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256}}
	e.handleDIO(dio.Encode(), parentAddr)

	childAddr := netip.MustParseAddr("fe80::30")
	target := [16]byte{0x20, 0x01}

	registerDAO := wire.DAOBuildParams{
		InstanceID: 1, Sequence: 10, TargetPrefix: target, TargetLength: 64,
		Storing: true, PathSequence: 1, Lifetime: 30,
	}
	e.handleDAO(wire.Encode(registerDAO), childAddr)

	withdrawDAO := wire.DAOBuildParams{
		InstanceID: 1, Sequence: 11, TargetPrefix: target, TargetLength: 64,
		Storing: true, PathSequence: 2, Lifetime: 0,
	}
	e.handleDAO(wire.Encode(withdrawDAO), childAddr)

	prefix := wire.Prefix(target, 64)
	route, ok := e.Routes.Get(prefix)
	if !ok {
		t.Fatal("expected the route entry to still exist, marked NoPath")
	}
	if !route.NoPath {
		t.Error("expected route to be marked NoPath after a zero-lifetime DAO")
	}
}

func TestHandleDAOLoopDetectionPoisonsParent(t *testing.T) {
	e, conn := testEngine()
	instance := e.CreateInstance(1, of0.New(256))
	instance.MOP = dag.ModeStoring

	dio := &wire.DIO{InstanceID: 1, Rank: 256, DAGConfig: &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256}}
	e.handleDIO(dio.Encode(), parentAddr)

	d := instance.CurrentDAG
	preferred := d.PreferredParent
	if preferred == nil {
		t.Fatal("expected a preferred parent after joining")
	}

	target := [16]byte{0x20, 0x01}
	dao := wire.DAOBuildParams{
		InstanceID: 1, ACKRequested: true, Sequence: 1,
		TargetPrefix: target, TargetLength: 64, Storing: true, Lifetime: 30,
	}
	// The sender IS the preferred parent: registering a DAO from your
	// own upward route is a routing loop.
	e.handleDAO(wire.Encode(dao), parentAddr)

	if preferred.Rank != 65535 {
		t.Errorf("expected the preferred parent to be poisoned (InfiniteRank), got rank %d", preferred.Rank)
	}
	if len(conn.sentCodes(wire.CodeDAOACK)) != 0 {
		t.Error("a detected loop must never be ACKed")
	}
}

func TestHandleDAOMemOverflowNacksAtRoot(t *testing.T) {
	e, conn := testEngine()
	instance := e.CreateInstance(1, of0.New(256))
	instance.MOP = dag.ModeStoring
	instance.CurrentDAG = &dag.DAG{Rank: dag.RootRank, Parents: make(map[string]*dag.Parent)}
	e.Neighbors = neighbor.New(1)
	e.Neighbors.Add(netip.MustParseAddr("fe80::99"), "fe80::99", neighbor.ReasonDIO)

	dao := wire.DAOBuildParams{
		InstanceID: 1, ACKRequested: true, Sequence: 1,
		TargetPrefix: [16]byte{1}, TargetLength: 64, Storing: true, Lifetime: 30,
	}
	e.handleDAO(wire.Encode(dao), parentAddr)

	acks := conn.sentCodes(wire.CodeDAOACK)
	if len(acks) != 1 {
		t.Fatalf("expected exactly one DAO-ACK, got %d", len(acks))
	}
	ack, err := wire.ParseAck(acks[0].payload)
	if err != nil {
		t.Fatalf("ParseAck: %v", err)
	}
	if ack.Status != wire.StatusUnableToAddRouteAtRoot {
		t.Errorf("status = %d, want UnableToAddRouteAtRoot (%d)", ack.Status, wire.StatusUnableToAddRouteAtRoot)
	}
}

func TestHandleDAOAckCorrelatesOwnRegistration(t *testing.T) {
	e, _ := testEngine()
	instance := e.CreateInstance(1, of0.New(256))
	instance.MOP = dag.ModeStoring
	dio := &wire.DIO{InstanceID: 1, Rank: 256, DAGConfig: &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256}}
	e.handleDIO(dio.Encode(), parentAddr)

	e.sendDAO(instance, [16]byte{0x20, 0x01}, 64, 30)
	if !instance.RetransmitArmed {
		t.Fatal("expected the retransmission timer to be armed after sendDAO")
	}
	seq := instance.MyDAOSeqno

	ack := &wire.Ack{InstanceID: 1, Sequence: seq, Status: wire.StatusUnconditionalAccept}
	e.handleDAOAck(ack.Encode(), parentAddr)

	if instance.RetransmitArmed {
		t.Error("expected the retransmission timer to be disarmed once the matching ACK arrives")
	}
	if !instance.HasDownwardRoute {
		t.Error("expected HasDownwardRoute to be set on an accepting ACK")
	}
}

func TestHandleDCORemovesStaleRoute(t *testing.T) {
	e, conn := testEngine()
	instance := e.CreateInstance(1, of0.New(256))
	instance.MOP = dag.ModeStoring
	dio := &wire.DIO{InstanceID: 1, Rank: 256, DAGConfig: &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256}}
	e.handleDIO(dio.Encode(), parentAddr)

	childAddr := netip.MustParseAddr("fe80::30")
	target := [16]byte{0x20, 0x01}
	dao := wire.DAOBuildParams{
		InstanceID: 1, Sequence: 1, TargetPrefix: target, TargetLength: 64,
		Storing: true, PathSequence: 1, Lifetime: 30,
	}
	e.handleDAO(wire.Encode(dao), childAddr)

	prefix := wire.Prefix(target, 64)
	if _, ok := e.Routes.Get(prefix); !ok {
		t.Fatal("expected the route to exist before the DCO arrives")
	}

	// The DCO arrives from upstream (the preferred parent), a
	// different node than route.NextHop (childAddr): acceptance must
	// not depend on the sender matching the route's next hop.
	dco := wire.DCOBuildParams{
		InstanceID: 1, Sequence: 1, TargetPrefix: target, PathSequence: 2,
	}
	e.handleDCO(wire.EncodeDCO(dco), parentAddr)

	if _, ok := e.Routes.Get(prefix); ok {
		t.Error("expected the route to be removed after a fresher DCO")
	}
	forwarded := conn.sentCodes(wire.CodeDCO)
	if len(forwarded) == 0 {
		t.Fatal("expected the cleanup to be forwarded on to the route's next hop")
	}
	if forwarded[0].dst != childAddr {
		t.Errorf("forwarded DCO went to %v, want the route's next hop %v", forwarded[0].dst, childAddr)
	}
}

func TestHandleDCOIgnoresStalePathSequence(t *testing.T) {
	e, _ := testEngine()
	instance := e.CreateInstance(1, of0.New(256))
	instance.MOP = dag.ModeStoring
	dio := &wire.DIO{InstanceID: 1, Rank: 256, DAGConfig: &wire.DAGConfig{OCP: 0, MinHopRankIncrease: 256}}
	e.handleDIO(dio.Encode(), parentAddr)

	childAddr := netip.MustParseAddr("fe80::30")
	target := [16]byte{0x20, 0x01}
	dao := wire.DAOBuildParams{
		InstanceID: 1, Sequence: 1, TargetPrefix: target, TargetLength: 64,
		Storing: true, PathSequence: 5, Lifetime: 30,
	}
	e.handleDAO(wire.Encode(dao), childAddr)

	prefix := wire.Prefix(target, 64)
	dco := wire.DCOBuildParams{
		InstanceID: 1, Sequence: 1, TargetPrefix: target, PathSequence: 1,
	}
	e.handleDCO(wire.EncodeDCO(dco), childAddr)

	if _, ok := e.Routes.Get(prefix); !ok {
		t.Error("a DCO with a stale path sequence must not remove the route")
	}
}
