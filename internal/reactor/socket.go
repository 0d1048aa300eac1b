package reactor

import (
	"fmt"

	"golang.org/x/net/icmp"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
)

// OpenSocket opens an ICMP socket for the given family. It first tries a
// privileged raw ICMP socket ("ip4:icmp" / "ip6:ipv6-icmp") and, on
// permission failure, falls back to an unprivileged ICMP datagram socket
// ("udp4" / "udp6") where the platform provides one. unprivileged reports
// which path was taken, since the kernel may rewrite the Identifier field
// on a datagram socket and reply filtering by identifier must then be
// skipped.
func OpenSocket(family icmpwire.Family) (conn *icmp.PacketConn, unprivileged bool, err error) {
	if family == icmpwire.V6 {
		conn, err = icmp.ListenPacket("ip6:ipv6-icmp", "::")
		if err != nil {
			conn, err = icmp.ListenPacket("udp6", "::")
			unprivileged = err == nil
		}
	} else {
		conn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		if err != nil {
			conn, err = icmp.ListenPacket("udp4", "0.0.0.0")
			unprivileged = err == nil
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("reactor: open %s icmp socket: %w", family, err)
	}
	return conn, unprivileged, nil
}

// SetHopValue sets the IPv4 TTL or IPv6 hop limit for outgoing packets on
// conn. The kernel treats the option value as an int even though hop counts
// are logically uint8, so it is taken as an int here and callers reading
// the value back must range-check before narrowing.
func SetHopValue(conn *icmp.PacketConn, family icmpwire.Family, hop int) error {
	if family == icmpwire.V6 {
		return conn.IPv6PacketConn().SetHopLimit(hop)
	}
	return conn.IPv4PacketConn().SetTTL(hop)
}
