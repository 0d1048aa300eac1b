package icmpwire

import "errors"

// ErrShortPacket indicates a datagram too small to hold an ICMP header.
var ErrShortPacket = errors.New("icmpwire: packet shorter than ICMP header")

// ErrTruncatedInner indicates a Time Exceeded / Unreachable payload did not
// carry enough of the original datagram to recover identifier and sequence.
var ErrTruncatedInner = errors.New("icmpwire: truncated inner datagram")
