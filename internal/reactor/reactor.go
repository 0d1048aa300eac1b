// Package reactor provides the "wait for socket readable or timer" event
// loop that tracesession consumes through the Reactor capability. The
// session code only depends on the Reactor interface; Loop is the concrete
// implementation cmd/tracepath wires in.
package reactor

import (
	"context"
	"net"
	"time"
)

// Conn is the subset of golang.org/x/net/icmp.PacketConn (and, for tests,
// any net.PacketConn) the reactor needs to pump datagrams off a socket.
type Conn interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	SetReadDeadline(t time.Time) error
}

// ReadCallback receives one inbound datagram (or a terminal read error) for
// a registered connection. It always runs on the reactor's single dispatch
// goroutine.
type ReadCallback func(data []byte, peer net.Addr, err error)

// TimerHandle identifies a scheduled one-shot timer so it can be cancelled.
type TimerHandle uint64

// TimerCallback fires once, on the reactor's dispatch goroutine.
type TimerCallback func()

// Reactor is the capability Session/HopController/ContinuousPinger consume.
// It never exposes raw file descriptors: registering a Conn and reading it
// off a background goroutine, then funneling the result back onto one
// dispatch goroutine, gives the same "readiness-driven, single-threaded"
// contract as an fd-based epoll reactor without requiring syscall-level fd
// registration, which golang.org/x/net/icmp.PacketConn does not expose
// portably across platforms.
type Reactor interface {
	// RegisterReadable begins pumping datagrams from conn into cb. bufSize
	// bounds the per-read buffer (1500 is ample for ICMP over Ethernet).
	RegisterReadable(conn Conn, bufSize int, cb ReadCallback) error

	// Unregister stops delivering further callbacks for conn. It does not
	// close conn; the caller retains ownership of the socket.
	Unregister(conn Conn) error

	// ScheduleTimer arms a one-shot timer that invokes cb after delay.
	ScheduleTimer(delay time.Duration, cb TimerCallback) TimerHandle

	// CancelTimer disarms a timer. Safe to call after the timer has
	// already fired or been cancelled; it is then a no-op.
	CancelTimer(h TimerHandle)

	// Run drives the event loop until ctx is cancelled or Stop is called.
	Run(ctx context.Context) error

	// Stop unblocks a running Run and causes it to return.
	Stop()
}
