package main

import (
	"testing"

	"github.com/llnroute/rpl-node/of/mrhof"
	"github.com/llnroute/rpl-node/of/of0"
)

func TestSelectOF(t *testing.T) {
	mr, err := selectOF("mrhof", 256)
	if err != nil {
		t.Fatalf("selectOF(mrhof): %v", err)
	}
	if _, ok := mr.(*mrhof.OF); !ok {
		t.Errorf("selectOF(mrhof) = %T, want *mrhof.OF", mr)
	}

	o0, err := selectOF("of0", 256)
	if err != nil {
		t.Fatalf("selectOF(of0): %v", err)
	}
	if _, ok := o0.(*of0.OF); !ok {
		t.Errorf("selectOF(of0) = %T, want *of0.OF", o0)
	}

	if _, err := selectOF("bogus", 256); err == nil {
		t.Error("selectOF(bogus) should have returned an error")
	}
}

func TestRootDAGID(t *testing.T) {
	id := rootDAGID(3)
	if id[0] != 3 {
		t.Errorf("rootDAGID(3)[0] = %d, want 3", id[0])
	}
}
