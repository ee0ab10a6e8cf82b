// Package ipstack is the IPv6/ICMPv6 collaborator §1/§6 scope out of
// the core protocol logic: raw ICMPv6 socket send/receive, multicast
// group membership, and this node's own global address. Package rpl
// talks to a *Conn through the narrow surface §6 names (`send`,
// `addr_is_multicast`, `addr_is_linklocal`, `own_global_address`) and
// never touches golang.org/x/net/ipv6 or vishvananda/netlink
// directly.
package ipstack

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/vishvananda/netlink"
)

// LinkLocalAllRPLNodes is the all-RPL-nodes multicast address
// (RFC 6550 §20.17), the destination DIO/DIS multicast traffic joins
// and is addressed to.
var LinkLocalAllRPLNodes = netip.MustParseAddr("ff02::1a")

// Conn is an ICMPv6 raw socket bound to one interface, scoped to RPL
// message type 155 by a kernel ICMPv6 filter that Listen installs;
// dispatch on the RPL code happens one layer up in package rpl,
// matching wire.Code.
type Conn struct {
	iface *net.Interface
	pc    *icmp.PacketConn
	p6    *ipv6.PacketConn
}

// Listen opens an ICMPv6 raw socket on the named interface, joins the
// all-RPL-nodes multicast group, and sets the hop limit to 255 as RFC
// 6550 mandates for all RPL control traffic.
func Listen(ifaceName string) (*Conn, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("ipstack: interface %q: %w", ifaceName, err)
	}

	pc, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return nil, fmt.Errorf("ipstack: icmp.ListenPacket: %w", err)
	}

	p6 := pc.IPv6PacketConn()
	if err := p6.SetHopLimit(255); err != nil {
		pc.Close()
		return nil, fmt.Errorf("ipstack: SetHopLimit: %w", err)
	}
	if err := p6.SetMulticastHopLimit(255); err != nil {
		pc.Close()
		return nil, fmt.Errorf("ipstack: SetMulticastHopLimit: %w", err)
	}
	if err := p6.SetControlMessage(ipv6.FlagSrc|ipv6.FlagDst|ipv6.FlagInterface, true); err != nil {
		pc.Close()
		return nil, fmt.Errorf("ipstack: SetControlMessage: %w", err)
	}
	if err := p6.JoinGroup(iface, &net.UDPAddr{IP: net.ParseIP(LinkLocalAllRPLNodes.String())}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("ipstack: JoinGroup: %w", err)
	}
	if err := p6.SetICMPFilter(rplOnlyFilter()); err != nil {
		pc.Close()
		return nil, fmt.Errorf("ipstack: SetICMPFilter: %w", err)
	}

	return &Conn{iface: iface, pc: pc, p6: p6}, nil
}

// rplOnlyFilter builds a kernel ICMP filter admitting only ICMPv6
// type 155 (RPL), so the kernel drops every other ICMPv6 message
// before it reaches this socket's read queue.
func rplOnlyFilter() *ipv6.ICMPFilter {
	f := new(ipv6.ICMPFilter)
	f.SetAll(true)
	f.Accept(ipv6.ICMPType(155))
	return f
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.pc.Close()
}

// Send transmits an ICMPv6 message of the given code (always type
// 155 — RPL) and payload to dst.
func (c *Conn) Send(dst netip.Addr, code uint8, payload []byte) error {
	msg := icmp.Message{
		Type: ipv6.ICMPType(155),
		Code: int(code),
		Body: &icmp.RawBody{Data: payload},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("ipstack: marshal: %w", err)
	}
	cm := &ipv6.ControlMessage{IfIndex: c.iface.Index}
	_, err = c.p6.WriteTo(b, cm, &net.UDPAddr{IP: net.ParseIP(dst.String())})
	if err != nil {
		return fmt.Errorf("ipstack: send to %s: %w", dst, err)
	}
	return nil
}

// Recv blocks for the next ICMPv6 message, returning its code, its
// RPL payload (the ICMPv6 body, with the type/code/checksum header
// stripped), the source address it arrived from, and the destination
// address it was sent to (needed to tell a unicast DIS/DIO apart from
// one sent to the all-RPL-nodes multicast group).
func (c *Conn) Recv(buf []byte) (code uint8, payload []byte, src, dst netip.Addr, err error) {
	n, cm, peer, err := c.p6.ReadFrom(buf)
	if err != nil {
		return 0, nil, netip.Addr{}, netip.Addr{}, fmt.Errorf("ipstack: recv: %w", err)
	}
	m, err := icmp.ParseMessage(unix.IPPROTO_ICMPV6, buf[:n])
	if err != nil {
		return 0, nil, netip.Addr{}, netip.Addr{}, fmt.Errorf("ipstack: parse: %w", err)
	}
	rb, ok := m.Body.(*icmp.RawBody)
	if !ok {
		return 0, nil, netip.Addr{}, netip.Addr{}, fmt.Errorf("ipstack: unexpected body type %T", m.Body)
	}
	srcAddr, ok := netip.AddrFromSlice(peer.(*net.UDPAddr).IP)
	if !ok {
		return 0, nil, netip.Addr{}, netip.Addr{}, fmt.Errorf("ipstack: bad peer address %v", peer)
	}
	var dstAddr netip.Addr
	if cm != nil {
		if a, ok := netip.AddrFromSlice(cm.Dst); ok {
			dstAddr = a.Unmap()
		}
	}
	return uint8(m.Code), rb.Data, srcAddr.Unmap(), dstAddr, nil
}

// AddrIsMulticast reports whether addr is an IPv6 multicast address
// (ff00::/8), the check DIS/DIO handling uses to decide whether a
// received message was unicast or multicast.
func AddrIsMulticast(addr netip.Addr) bool {
	return addr.IsMulticast()
}

// AddrIsLinkLocal reports whether addr is a link-local address
// (fe80::/10); RPL neighbors are always addressed link-locally.
func AddrIsLinkLocal(addr netip.Addr) bool {
	return addr.IsLinkLocalUnicast()
}

// OwnGlobalAddress returns this node's global (non-link-local,
// non-multicast) IPv6 address on the bound interface — the address
// DAO registrations and DIO DAG_ID fields for a root node are built
// from.
func (c *Conn) OwnGlobalAddress() (netip.Addr, error) {
	link, err := netlink.LinkByName(c.iface.Name)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("ipstack: LinkByName(%s): %w", c.iface.Name, err)
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V6)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("ipstack: AddrList: %w", err)
	}
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ip.IsLinkLocalUnicast() || ip.IsMulticast() {
			continue
		}
		return ip, nil
	}
	return netip.Addr{}, fmt.Errorf("ipstack: no global address on %s", c.iface.Name)
}
