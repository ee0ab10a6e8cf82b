// Package wire implements the on-the-wire ICMPv6 codec for RPL control
// messages: DIS, DIO, DAO, DAO-ACK, DCO and DCO-ACK (RFC 6550 §6).
//
// Every message type pairs an Encode method with a Parse function, the
// same co-location the teacher's inetdiag package uses for its
// netlink request/response structs.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// ICMPType is the ICMPv6 type value used for all RPL control messages.
const ICMPType = 155

// Code identifies which RPL message a packet carries, carried in the
// ICMPv6 header's Code field.
type Code uint8

const (
	CodeDIS    Code = 0x00
	CodeDIO    Code = 0x01
	CodeDAO    Code = 0x02
	CodeDAOACK Code = 0x03
	CodeDCO    Code = 0x04
	CodeDCOACK Code = 0x05
)

func (c Code) String() string {
	switch c {
	case CodeDIS:
		return "DIS"
	case CodeDIO:
		return "DIO"
	case CodeDAO:
		return "DAO"
	case CodeDAOACK:
		return "DAO-ACK"
	case CodeDCO:
		return "DCO"
	case CodeDCOACK:
		return "DCO-ACK"
	default:
		return fmt.Sprintf("Code(%#02x)", uint8(c))
	}
}

// ErrMalformed is returned by any Parse function when a message is too
// short, carries an option whose declared length runs past the buffer,
// or otherwise fails to decode.
var ErrMalformed = errors.New("wire: malformed RPL message")

// Option type octets, shared by DIO/DAO/DCO suboption streams.
const (
	OptionPad1              = 0x00
	OptionPadN              = 0x01
	OptionDAGMetricContainer = 0x02
	OptionRouteInfo          = 0x03
	OptionDAGConfig          = 0x04
	OptionTarget             = 0x05
	OptionTransit            = 0x06
	OptionSolicitedInfo      = 0x07
	OptionPrefixInfo         = 0x08
	OptionTargetDescriptor   = 0x09
)

// DIO base-header flag bits (byte 4 of the DIO payload).
const (
	FlagGrounded   = 0x80
	mopShift       = 3
	mopMask        = 0x38
	preferenceMask = 0x07
)

// DAO/DCO base-header flag bits.
const (
	FlagACKRequested = 0x80 // 'K' flag
	FlagDAGIDPresent = 0x40 // 'D' flag
)

// DAO-ACK / DCO-ACK status codes (RFC 6550 §6.6, extended for DCO per
// the retrieval pack's reference implementation).
const (
	StatusUnconditionalAccept   = 0
	StatusUnableToAccept        = 128
	StatusUnableToAddRouteAtRoot = 129
	StatusNoRouteEntry          = 234
	StatusTimeout               = 255
)

func get16(b []byte, i int) uint16 {
	return binary.BigEndian.Uint16(b[i:])
}

func put16(b []byte, i int, v uint16) {
	binary.BigEndian.PutUint16(b[i:], v)
}

func get32(b []byte, i int) uint32 {
	return binary.BigEndian.Uint32(b[i:])
}

func put32(b []byte, i int, v uint32) {
	binary.BigEndian.PutUint32(b[i:], v)
}

// prefixBytes returns the number of octets needed to hold a prefixlen-bit
// prefix, rounding up to the next whole byte.
func prefixBytes(prefixlen uint8) int {
	return (int(prefixlen) + 7) / 8
}

// Prefix converts a wire-format 16-byte address plus bit length, as
// decoded from a TARGET or ROUTE_INFO suboption, into a netip.Prefix
// keyable into a route table.
func Prefix(addr [16]byte, length uint8) netip.Prefix {
	return netip.PrefixFrom(netip.AddrFrom16(addr), int(length))
}
