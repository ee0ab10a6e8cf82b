package rpl

import (
	"net/netip"

	"github.com/llnroute/rpl-node/ipstack"
	"github.com/llnroute/rpl-node/neighbor"
	"github.com/llnroute/rpl-node/wire"
)

// handleDIS implements §4.4's DIS input procedure: a unicast
// solicitation gets a unicast DIO reply per instance (after a
// best-effort neighbor-cache add), while a multicast solicitation
// merely resets every non-leaf instance's trickle timer.
func (e *Engine) handleDIS(payload []byte, src, dst netip.Addr) {
	if _, err := wire.ParseDIS(payload); err != nil {
		e.incMalformed(wire.CodeDIS)
		return
	}

	if ipstack.AddrIsMulticast(dst) {
		for _, instance := range e.Instances {
			if instance.LeafOnly {
				continue
			}
			if instance.Trickle != nil {
				instance.Trickle.Reset()
			}
		}
		return
	}

	for _, instance := range e.Instances {
		if _, ok := e.Neighbors.Add(src, neighborKey(src), neighbor.ReasonDIO); !ok {
			// No room in the neighbor cache: drop without replying.
			continue
		}
		_ = e.sendDIOUnicast(instance, src)
	}
}

// sendDIS transmits a solicitation to dst (typically the all-RPL-
// nodes multicast address), used when this node has no DAG to join
// and wants to prompt neighbors to advertise.
func (e *Engine) sendDIS(dst netip.Addr) error {
	d := wire.DIS{}
	return e.send(dst, wire.CodeDIS, d.Encode())
}
