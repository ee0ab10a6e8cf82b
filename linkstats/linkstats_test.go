package linkstats_test

import (
	"testing"

	"github.com/llnroute/rpl-node/linkstats"
	"github.com/llnroute/rpl-node/of"
	"github.com/llnroute/rpl-node/of/mrhof"
)

func TestGetUnknownReturnsSentinel(t *testing.T) {
	s := linkstats.NewStore()
	if got := s.Get("00:11:22:33:44:55"); got != 0xffff {
		t.Errorf("got %#04x, want 0xffff", got)
	}
	if s.Has("00:11:22:33:44:55") {
		t.Error("Has should report false before any record exists")
	}
}

func TestInitAndGet(t *testing.T) {
	s := linkstats.NewStore()
	s.Init("aa", 256)
	if got := s.Get("aa"); got != 256 {
		t.Errorf("got %d, want 256", got)
	}
	if !s.Has("aa") {
		t.Error("Has should report true after Init")
	}
}

func TestRecordTxUpdatesMetric(t *testing.T) {
	s := linkstats.NewStore()
	m := mrhof.New()
	s.Init("aa", 128)
	updated := s.RecordTx("aa", m, of.TxNoACK, 1)
	if updated <= 128 {
		t.Errorf("got %d, want an increase after a NOACK", updated)
	}
}

func TestPenalizeSkipsWhenZero(t *testing.T) {
	s := linkstats.NewStore()
	m := mrhof.New()
	s.Init("aa", 256)
	if got := s.Penalize("aa", m, 0); got != 256 {
		t.Errorf("got %d, want unchanged 256", got)
	}
}

func TestRemove(t *testing.T) {
	s := linkstats.NewStore()
	s.Init("aa", 256)
	s.Remove("aa")
	if s.Has("aa") {
		t.Error("Has should report false after Remove")
	}
}
