// Package icmpwire builds and parses ICMPv4/ICMPv6 Echo packets and
// classifies inbound datagrams against the nested "original datagram"
// carried inside Time Exceeded and Destination Unreachable messages.
package icmpwire

import "net"

// Family selects IPv4 vs IPv6 and, with it, the socket type, TTL/hop-limit
// option, and ICMP type constants a session uses.
type Family int

const (
	// V4 selects ICMPv4 over an IPv4 socket.
	V4 Family = iota
	// V6 selects ICMPv6 over an IPv6 socket.
	V6
)

func (f Family) String() string {
	if f == V6 {
		return "ipv6"
	}
	return "ipv4"
}

// protocolNumber is the IP protocol number icmp.ParseMessage expects.
func (f Family) protocolNumber() int {
	if f == V6 {
		return 58 // ICMPv6
	}
	return 1 // ICMP
}

// AddressStyle constrains which address families a Resolver may hand back.
type AddressStyle int

const (
	// Any accepts either address family, preferring IPv4 when both exist.
	Any AddressStyle = iota
	// V4Only rejects IPv6 results.
	V4Only
	// V6Only rejects IPv4 results.
	V6Only
)

func (s AddressStyle) String() string {
	switch s {
	case V4Only:
		return "v4only"
	case V6Only:
		return "v6only"
	default:
		return "any"
	}
}

// Accepts reports whether an address of the given family satisfies this style.
func (s AddressStyle) Accepts(f Family) bool {
	switch s {
	case V4Only:
		return f == V4
	case V6Only:
		return f == V6
	default:
		return true
	}
}

// FamilyOf derives the Family of an IP address, defaulting to V4 for
// 4-in-6-mapped addresses.
func FamilyOf(ip net.IP) Family {
	if ip.To4() != nil {
		return V4
	}
	return V6
}

// ICMP message type constants, v4 and v6, per the GLOSSARY.
const (
	ICMPv4EchoReply    = 0
	ICMPv4Unreachable  = 3
	ICMPv4EchoRequest  = 8
	ICMPv4TimeExceeded = 11

	ICMPv6Unreachable  = 1
	ICMPv6TimeExceeded = 3
	ICMPv6EchoRequest  = 128
	ICMPv6EchoReply    = 129
)

func echoRequestType(f Family) uint8 {
	if f == V6 {
		return ICMPv6EchoRequest
	}
	return ICMPv4EchoRequest
}

func echoReplyType(f Family) uint8 {
	if f == V6 {
		return ICMPv6EchoReply
	}
	return ICMPv4EchoReply
}

func timeExceededType(f Family) uint8 {
	if f == V6 {
		return ICMPv6TimeExceeded
	}
	return ICMPv4TimeExceeded
}

func unreachableType(f Family) uint8 {
	if f == V6 {
		return ICMPv6Unreachable
	}
	return ICMPv4Unreachable
}

// innerHeaderLen is the byte length of the inner IP header embedded in a
// Time Exceeded / Unreachable payload: a computed IHL*4 for IPv4, a fixed
// 40 bytes for IPv6.
func innerHeaderLen(f Family, data []byte) (int, bool) {
	if f == V6 {
		return 40, len(data) >= 40
	}
	if len(data) < 1 {
		return 0, false
	}
	ihl := int(data[0]&0x0f) * 4
	return ihl, ihl >= 20 && len(data) >= ihl
}
