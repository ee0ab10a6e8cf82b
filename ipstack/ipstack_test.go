package ipstack_test

import (
	"net/netip"
	"testing"

	"github.com/llnroute/rpl-node/ipstack"
)

func TestAddrIsMulticast(t *testing.T) {
	if !ipstack.AddrIsMulticast(ipstack.LinkLocalAllRPLNodes) {
		t.Error("all-RPL-nodes address should be multicast")
	}
	if ipstack.AddrIsMulticast(netip.MustParseAddr("fe80::1")) {
		t.Error("a link-local unicast address should not be multicast")
	}
}

func TestAddrIsLinkLocal(t *testing.T) {
	if !ipstack.AddrIsLinkLocal(netip.MustParseAddr("fe80::1")) {
		t.Error("fe80::1 should be link-local")
	}
	if ipstack.AddrIsLinkLocal(netip.MustParseAddr("2001:db8::1")) {
		t.Error("a global address should not be link-local")
	}
}
