package of0_test

import (
	"testing"

	"github.com/llnroute/rpl-node/of"
	"github.com/llnroute/rpl-node/of/of0"
)

func TestCalculateRankNoParentNoBase(t *testing.T) {
	o := of0.New(256)
	if got := o.CalculateRank(false, of.Parent{}, 0); got != of.InfiniteRank {
		t.Errorf("got %d, want InfiniteRank", got)
	}
}

func TestStepOfRankClippingMakesParentUnacceptable(t *testing.T) {
	o := of0.New(256)
	// Link metric 0xffff (stats unknown): STEP_OF_RANK way above 9,
	// so this parent should lose to any acceptable one.
	unacceptable := of.Parent{Rank: 256, LinkMetric: 0xffff}
	acceptable := of.Parent{Rank: 256, LinkMetric: 128} // STEP_OF_RANK = 3*128/128-2 = 1, in range
	if got := o.BestParent(unacceptable, acceptable, false, false); got != of.ChooseSecond {
		t.Errorf("got %d, want ChooseSecond (unacceptable parent must lose)", got)
	}
}

func TestCalculateRankScalesByMinHopRankIncrease(t *testing.T) {
	o := of0.New(256)
	p := of.Parent{Rank: 256, LinkMetric: 128} // STEP_OF_RANK = 1
	got := o.CalculateRank(true, p, 0)
	// increase = (1*1 + 0) * 256 = 256; rank = parent.Rank + increase = 512
	if got != 512 {
		t.Errorf("got %d, want 512", got)
	}
}

func TestCalculateRankSaturates(t *testing.T) {
	o := of0.New(256)
	p := of.Parent{Rank: of.InfiniteRank - 10, LinkMetric: 128}
	if got := o.CalculateRank(true, p, 0); got != of.InfiniteRank {
		t.Errorf("got %d, want InfiniteRank", got)
	}
}

func TestBestDAGOrdering(t *testing.T) {
	o := of0.New(256)
	d1 := of.DAG{Grounded: true, Rank: 100}
	d2 := of.DAG{Grounded: true, Rank: 50}
	if got := o.BestDAG(d1, d2); got != of.ChooseSecond {
		t.Errorf("got %d, want ChooseSecond (lower rank wins)", got)
	}
}

func TestUpdateMetricContainerAlwaysNil(t *testing.T) {
	o := of0.New(256)
	if mc := o.UpdateMetricContainer(10, false); mc != nil {
		t.Errorf("got %+v, want nil (OF0 advertises no metric container)", mc)
	}
}

func TestDAOAckCallbackPenalizesOnTimeout(t *testing.T) {
	o := of0.New(256)
	penalize, n := o.DAOAckCallback(255)
	if !penalize || n != 10 {
		t.Errorf("got (%v, %d), want (true, 10)", penalize, n)
	}
}

func TestDAOAckCallbackIgnoresUnableToAddRouteAtRoot(t *testing.T) {
	o := of0.New(256)
	penalize, n := o.DAOAckCallback(129)
	if penalize || n != 0 {
		t.Errorf("got (%v, %d), want (false, 0)", penalize, n)
	}
}
