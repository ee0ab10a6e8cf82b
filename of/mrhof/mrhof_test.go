package mrhof_test

import (
	"testing"

	"github.com/llnroute/rpl-node/of"
	"github.com/llnroute/rpl-node/of/mrhof"
)

func TestCalculateRankNoParentNoBase(t *testing.T) {
	m := mrhof.New()
	if got := m.CalculateRank(false, of.Parent{}, 0); got != of.InfiniteRank {
		t.Errorf("got %d, want InfiniteRank", got)
	}
}

func TestCalculateRankSaturates(t *testing.T) {
	m := mrhof.New()
	p := of.Parent{Rank: of.InfiniteRank - 5, LinkMetric: 100}
	if got := m.CalculateRank(true, p, 0); got != of.InfiniteRank {
		t.Errorf("got %d, want InfiniteRank (saturated)", got)
	}
}

func TestParentHysteresisKeepsIncumbent(t *testing.T) {
	m := mrhof.New()
	p1 := of.Parent{Rank: 256, LinkMetric: 128} // path 384
	p2 := of.Parent{Rank: 256, LinkMetric: 96}  // path 352, diff 32 <= 64
	if got := m.BestParent(p1, p2, true, false); got != of.ChooseFirst {
		t.Errorf("got %d, want ChooseFirst (hysteresis keeps incumbent)", got)
	}
}

func TestParentSwitchBeyondHysteresis(t *testing.T) {
	m := mrhof.New()
	p1 := of.Parent{Rank: 256, LinkMetric: 128} // path 384
	p2 := of.Parent{Rank: 256, LinkMetric: 32}  // path 288, diff 96 > 64
	if got := m.BestParent(p1, p2, true, false); got != of.ChooseSecond {
		t.Errorf("got %d, want ChooseSecond (switch, diff exceeds hysteresis)", got)
	}
}

func TestBestParentNoIncumbentPicksSmaller(t *testing.T) {
	m := mrhof.New()
	p1 := of.Parent{Rank: 512, LinkMetric: 256}
	p2 := of.Parent{Rank: 128, LinkMetric: 128}
	if got := m.BestParent(p1, p2, false, false); got != of.ChooseSecond {
		t.Errorf("got %d, want ChooseSecond", got)
	}
}

func TestBestDAGGroundedBeatsUngrounded(t *testing.T) {
	m := mrhof.New()
	d1 := of.DAG{Grounded: true, Rank: 1000}
	d2 := of.DAG{Grounded: false, Rank: 10}
	if got := m.BestDAG(d1, d2); got != of.ChooseFirst {
		t.Errorf("got %d, want ChooseFirst", got)
	}
}

func TestBestDAGPreferenceBeatsRank(t *testing.T) {
	m := mrhof.New()
	d1 := of.DAG{Grounded: true, Preference: 5, Rank: 1000}
	d2 := of.DAG{Grounded: true, Preference: 1, Rank: 10}
	if got := m.BestDAG(d1, d2); got != of.ChooseFirst {
		t.Errorf("got %d, want ChooseFirst", got)
	}
}

func TestNeighborLinkCallbackIgnoresErr(t *testing.T) {
	m := mrhof.New()
	if got := m.NeighborLinkCallback(512, of.TxErr, 1); got != 512 {
		t.Errorf("got %d, want unchanged 512", got)
	}
}

func TestNeighborLinkCallbackNoAckPenalizes(t *testing.T) {
	m := mrhof.New()
	got := m.NeighborLinkCallback(128, of.TxNoACK, 1)
	if got <= 128 {
		t.Errorf("got %d, want an increase after a NOACK", got)
	}
}

func TestUpdateMetricContainerRootIsZero(t *testing.T) {
	m := mrhof.New()
	mc := m.UpdateMetricContainer(500, true)
	if mc == nil || mc.ETX != 0 {
		t.Errorf("got %+v, want ETX 0 at root", mc)
	}
}

func TestUpdateMetricContainerNonRoot(t *testing.T) {
	m := mrhof.New()
	mc := m.UpdateMetricContainer(500, false)
	if mc == nil || mc.ETX != 500 {
		t.Errorf("got %+v, want ETX 500", mc)
	}
}
