package icmpwire

import (
	"encoding/binary"
	"math"
	"time"
)

// payloadLen pads every outgoing Echo body to at least 16 bytes: 8 bytes
// of send timestamp, hop, probe index, and zero fill.
const payloadLen = 16

// EchoPayload is the opaque body the engine stamps into every outgoing
// Echo Request so a matching reply's RTT and originating hop/probe can be
// recovered without consulting the ProbeTable.
type EchoPayload struct {
	SentAt     time.Time
	Hop        uint8
	ProbeIndex uint8
}

// Encode serializes an EchoPayload to its fixed 16-byte wire layout:
// 8 bytes of float64 seconds-since-epoch, then hop, then probe index, then
// zero padding.
func (p EchoPayload) Encode() []byte {
	buf := make([]byte, payloadLen)
	seconds := float64(p.SentAt.UnixNano()) / float64(time.Second)
	binary.BigEndian.PutUint64(buf[0:8], math.Float64bits(seconds))
	buf[8] = p.Hop
	buf[9] = p.ProbeIndex
	return buf
}

// DecodeEchoPayload parses the fixed layout produced by Encode. It tolerates
// payloads longer than payloadLen (kernels and middleboxes sometimes pad)
// and rejects anything shorter than the 10 bytes that carry the timestamp,
// hop and probe index; the zero fill is not checked.
func DecodeEchoPayload(data []byte) (EchoPayload, bool) {
	if len(data) < 10 {
		return EchoPayload{}, false
	}
	seconds := math.Float64frombits(binary.BigEndian.Uint64(data[0:8]))
	nanos := int64(seconds * float64(time.Second))
	return EchoPayload{
		SentAt:     time.Unix(0, nanos),
		Hop:        data[8],
		ProbeIndex: data[9],
	}, true
}

// BuildEcho constructs an ICMPv4 or ICMPv6 Echo Request datagram. For V4 the
// checksum is computed over header+payload with the checksum field zeroed
// first; for V6 the checksum field is left zero since the kernel computes
// it using the IPv6 pseudo-header.
func BuildEcho(family Family, identifier, sequence uint16, payload []byte) []byte {
	if len(payload) < payloadLen {
		padded := make([]byte, payloadLen)
		copy(padded, payload)
		payload = padded
	}

	buf := make([]byte, 8+len(payload))
	buf[0] = echoRequestType(family)
	buf[1] = 0 // code
	buf[2], buf[3] = 0, 0
	binary.BigEndian.PutUint16(buf[4:6], identifier)
	binary.BigEndian.PutUint16(buf[6:8], sequence)
	copy(buf[8:], payload)

	if family == V4 {
		sum := Checksum(buf)
		binary.BigEndian.PutUint16(buf[2:4], sum)
	}

	return buf
}

// ClassKind enumerates the outcomes of Classify.
type ClassKind int

const (
	// Malformed means the datagram could not be parsed at all.
	Malformed ClassKind = iota
	// Other is a recognized-but-uninteresting ICMP message, or one the
	// identifier filter excluded.
	Other
	// EchoReply is a reply to one of our own Echo Requests.
	EchoReply
	// TimeExceeded is a router reporting TTL/hop-limit exhaustion.
	TimeExceeded
	// Unreachable is a Destination Unreachable report.
	Unreachable
)

// Classification is the result of parsing an inbound datagram.
type Classification struct {
	Kind ClassKind
	Seq  uint16
	ID   uint16
	Code uint8
}

// Classify parses an inbound datagram (which may or may not include an
// outer IP header) and determines what it is. If skipIdentifierFilter is
// false, replies and errors whose identifier does not match want are
// demoted to Other; the filter is skippable for unprivileged datagram
// sockets where the kernel may have rewritten the identifier.
func Classify(family Family, datagram []byte, want uint16, skipIdentifierFilter bool) Classification {
	icmp, ok := locateICMP(family, datagram)
	if !ok || len(icmp) < 8 {
		return Classification{Kind: Malformed}
	}

	msgType := icmp[0]
	code := icmp[1]

	switch {
	case msgType == echoReplyType(family):
		id := binary.BigEndian.Uint16(icmp[4:6])
		seq := binary.BigEndian.Uint16(icmp[6:8])
		if !skipIdentifierFilter && id != want {
			return Classification{Kind: Other}
		}
		return Classification{Kind: EchoReply, ID: id, Seq: seq}

	case msgType == timeExceededType(family):
		innerID, innerSeq, ok := innerIdentifierSequence(family, icmp[8:])
		if !ok {
			return Classification{Kind: Malformed}
		}
		if !skipIdentifierFilter && innerID != want {
			return Classification{Kind: Other}
		}
		return Classification{Kind: TimeExceeded, ID: innerID, Seq: innerSeq}

	case msgType == unreachableType(family):
		innerID, innerSeq, ok := innerIdentifierSequence(family, icmp[8:])
		if !ok {
			return Classification{Kind: Malformed}
		}
		if !skipIdentifierFilter && innerID != want {
			return Classification{Kind: Other}
		}
		return Classification{Kind: Unreachable, ID: innerID, Seq: innerSeq, Code: code}

	default:
		return Classification{Kind: Other}
	}
}

// locateICMP finds the ICMP header within a possibly IP-header-prefixed
// datagram: IPv4 sockets may hand back the IP header prepended to the ICMP
// payload depending on platform and socket type; IPv6 sockets never do.
func locateICMP(family Family, datagram []byte) ([]byte, bool) {
	if family == V6 {
		return datagram, len(datagram) >= 8
	}

	if len(datagram) >= 20 && datagram[0]>>4 == 4 {
		ihl := int(datagram[0]&0x0f) * 4
		if ihl >= 20 && len(datagram) >= ihl+8 {
			return datagram[ihl:], true
		}
		return nil, false
	}
	return datagram, len(datagram) >= 8
}

// innerIdentifierSequence extracts the identifier and sequence of the
// original Echo Request embedded in a Time Exceeded / Unreachable payload.
func innerIdentifierSequence(family Family, inner []byte) (id, seq uint16, ok bool) {
	hdrLen, ok := innerHeaderLen(family, inner)
	if !ok || len(inner) < hdrLen+8 {
		return 0, 0, false
	}
	innerICMP := inner[hdrLen:]
	return binary.BigEndian.Uint16(innerICMP[4:6]), binary.BigEndian.Uint16(innerICMP[6:8]), true
}
