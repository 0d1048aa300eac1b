package tracesession

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
	"github.com/halvorsenlars/tracepath/internal/probetable"
	"github.com/halvorsenlars/tracepath/internal/reactor"
)

// socketConn is the subset of golang.org/x/net/icmp.PacketConn (and, for
// tests, any fake) a Session needs once its socket is open: reading and
// writing datagrams, registering with the reactor, and closing. It extends
// reactor.Conn with WriteTo and Close and exists so Start can be exercised
// against a fake socket without opening a real one.
type socketConn interface {
	reactor.Conn
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// openedSocket is what a socket opener hands back: the connection plus a
// closure that applies SetHopValue to it. The closure indirection keeps
// Session from needing to know the concrete connection type to change its
// TTL/hop-limit, which golang.org/x/net/icmp.PacketConn requires.
type openedSocket struct {
	conn         socketConn
	unprivileged bool
	setHop       func(hop int) error
}

func defaultSocketOpener(family icmpwire.Family) (openedSocket, error) {
	conn, unprivileged, err := reactor.OpenSocket(family)
	if err != nil {
		return openedSocket{}, err
	}
	return openedSocket{
		conn:         conn,
		unprivileged: unprivileged,
		setHop:       func(hop int) error { return reactor.SetHopValue(conn, family, hop) },
	}, nil
}

// sweepInterval and sweepMaxAgeFactor bound the probe table's memory when a
// probe elicits no classification at all, not even a late one, for longer
// than a handful of per-hop timeouts.
const (
	sweepInterval     = 10 * time.Second
	sweepMaxAgeFactor = 3
)

// Session runs a single traceroute to completion. It owns the probe table,
// the hop controller, the statistics tracker, the socket, and the timer; it
// consumes a Resolver, a reactor.Reactor, and an Observer as its only
// external dependencies.
type Session struct {
	reactor  reactor.Reactor
	resolver Resolver
	observer Observer
	cfg      SessionConfig

	mu    sync.Mutex
	state State

	identifier uint16
	seq        uint16

	openSocket func(icmpwire.Family) (openedSocket, error)

	conn         socketConn
	setHop       func(hop int) error
	unprivileged bool
	family       icmpwire.Family
	writeAddr    net.Addr
	targetHost   string
	targetAddr   net.IP

	table      *probetable.Table
	controller *hopController
	stats      *statsTracker

	hopTimer      reactor.TimerHandle
	hopTimerSet   bool
	sweepTimer    reactor.TimerHandle
	sweepTimerSet bool

	probeIndex   uint8
	succeededHop int
	hopResults   []HopResult
	startedAt    time.Time
}

// NewSession constructs an idle Session. identifier should be distinct per
// concurrent session so the identifier filter can tell their replies apart;
// on an unprivileged datagram socket that filter is skipped and replies
// correlate by sequence number alone.
func NewSession(cfg SessionConfig, rx reactor.Reactor, resolver Resolver, observer Observer, identifier uint16) *Session {
	return &Session{
		reactor:    rx,
		resolver:   resolver,
		observer:   observer,
		cfg:        cfg,
		state:      StateIdle,
		identifier: identifier,
		table:      probetable.New(),
		stats:      newStatsTracker(),
		openSocket: defaultSocketOpener,
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the session is resolving or actively probing.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateResolving || s.state == StateRunning
}

// Config returns the session's configuration.
func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Identifier returns the 16-bit identifier stamped into every outgoing
// Echo Request.
func (s *Session) Identifier() uint16 {
	return s.identifier
}

// Start resolves hostname and begins probing hop 1. It returns once probing
// has begun (or failed to begin); the terminal outcome is delivered later
// through Observer.OnFinished or Observer.OnFailed.
func (s *Session) Start(ctx context.Context, hostname string) error {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped && s.state != StateFinished && s.state != StateFailed {
		s.mu.Unlock()
		return newError(KindAlreadyRunning, ErrAlreadyRunning, "")
	}
	if err := s.cfg.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = StateResolving
	s.targetHost = hostname
	s.hopResults = nil
	s.stats = newStatsTracker()
	s.table.Clear()
	s.probeIndex = 0
	s.succeededHop = 0
	s.mu.Unlock()

	candidates, err := s.resolver.Resolve(ctx, hostname)
	if err != nil {
		s.fail(wrapError(KindResolutionFailed, ErrResolutionFailed, err))
		return err
	}
	addr, err := firstCompatible(candidates, s.cfg.AddressStyle)
	if err != nil {
		s.fail(err)
		return err
	}

	family := icmpwire.FamilyOf(addr)
	opened, err := s.openSocket(family)
	if err != nil {
		e := wrapError(KindSystemError, ErrSystemError, err)
		s.fail(e)
		return e
	}

	s.mu.Lock()
	s.conn = opened.conn
	s.setHop = opened.setHop
	s.unprivileged = opened.unprivileged
	s.family = family
	s.targetAddr = addr
	s.cfg.SkipIdentifierFilter = s.cfg.SkipIdentifierFilter || opened.unprivileged
	if opened.unprivileged {
		s.writeAddr = &net.UDPAddr{IP: addr}
	} else {
		s.writeAddr = &net.IPAddr{IP: addr}
	}
	s.controller = newHopController(s.cfg, s.table)
	s.startedAt = time.Now()
	s.state = StateRunning
	s.mu.Unlock()

	if err := s.reactor.RegisterReadable(opened.conn, 1500, s.onReadable); err != nil {
		e := wrapError(KindSystemError, ErrSystemError, err)
		s.fail(e)
		return e
	}

	s.observer.OnStarted(addr)
	s.armSweepTimer()
	s.enterHop(1)
	return nil
}

// Stop forcibly ends the session from any state. It is always safe to call,
// idempotent, and delivers a terminal SessionResult through
// Observer.OnFinished exactly once if the session had not already reached a
// terminal state.
func (s *Session) Stop() {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()
	s.teardown()
	s.observer.OnFinished(s.buildResult(false))
}

func isTerminal(st State) bool {
	return st == StateFinished || st == StateFailed || st == StateStopped
}

// enterHop begins probing a new hop, sending its first probe immediately.
func (s *Session) enterHop(hop uint8) {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	out := s.controller.enterHop(hop)
	s.mu.Unlock()

	if out.Exceeded {
		s.finish(false)
		return
	}

	if err := s.setHop(int(hop)); err != nil {
		s.fail(wrapError(KindSystemError, ErrSystemError, err))
		return
	}

	s.mu.Lock()
	s.probeIndex = 0
	s.succeededHop = 0
	s.mu.Unlock()
	s.sendNextProbeOrArm(hop)
}

// sendNextProbeOrArm sends the next outstanding probe for hop, or arms the
// per-hop timeout timer once ProbesPerHop have all been sent. The
// InterProbeGap delay between probes is a reactor timer rather than a
// blocking sleep, keeping the suspension point cooperative. A chain whose
// hop the session has already advanced past (a gap timer that raced a
// fast-progression advance) stops here, so only the current hop's chain
// ever arms the hop timer.
func (s *Session) sendNextProbeOrArm(hop uint8) {
	s.mu.Lock()
	if isTerminal(s.state) || hop != s.controller.currentHop {
		s.mu.Unlock()
		return
	}
	idx := s.probeIndex
	s.mu.Unlock()

	if idx >= s.cfg.ProbesPerHop {
		s.mu.Lock()
		succeeded := s.succeededHop
		s.mu.Unlock()
		if succeeded == 0 {
			s.fail(newError(KindNetworkError, ErrNetworkError, fmt.Sprintf("all probes for hop %d failed to send", hop)))
			return
		}
		s.armHopTimer(hop)
		return
	}

	sentAt := time.Now()
	seq := s.nextSequence()
	payload := icmpwire.EchoPayload{SentAt: sentAt, Hop: hop, ProbeIndex: idx}.Encode()
	packet := icmpwire.BuildEcho(s.family, s.identifier, seq, payload)

	_, err := s.conn.WriteTo(packet, s.writeAddr)
	s.mu.Lock()
	s.probeIndex++
	if err == nil {
		s.controller.recordProbeSent(seq, idx, sentAt)
		s.succeededHop++
	}
	s.mu.Unlock()

	if err == nil {
		s.stats.RecordSent()
		s.observer.OnProbeSent(hop, seq)
		s.observer.OnStatistics(s.stats.Snapshot())
	}

	s.reactor.ScheduleTimer(s.cfg.InterProbeGap, func() { s.sendNextProbeOrArm(hop) })
}

func (s *Session) armHopTimer(hop uint8) {
	s.mu.Lock()
	s.hopTimer = s.reactor.ScheduleTimer(s.cfg.PerHopTimeout, func() { s.onHopTimeout(hop) })
	s.hopTimerSet = true
	s.mu.Unlock()
}

func (s *Session) cancelHopTimer() {
	s.mu.Lock()
	if s.hopTimerSet {
		s.reactor.CancelTimer(s.hopTimer)
		s.hopTimerSet = false
	}
	s.mu.Unlock()
}

func (s *Session) armSweepTimer() {
	s.sweepTimer = s.reactor.ScheduleTimer(sweepInterval, s.onSweep)
	s.sweepTimerSet = true
}

func (s *Session) onSweep() {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	s.table.Sweep(time.Now(), sweepMaxAgeFactor*s.cfg.PerHopTimeout)
	s.mu.Unlock()
	s.armSweepTimer()
}

func (s *Session) onHopTimeout(hop uint8) {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	out := s.controller.handleHopTimeout(hop, time.Now())
	s.mu.Unlock()

	if out.Stale {
		return
	}
	if out.Emitted != nil {
		s.stats.RecordTimeout()
		s.observer.OnHopTimeout(hop)
		s.recordHopResult(*out.Emitted)
	}
	s.enterHop(out.NextHop)
}

func (s *Session) onReadable(data []byte, peer net.Addr, err error) {
	s.mu.Lock()
	terminal := isTerminal(s.state)
	s.mu.Unlock()
	if terminal {
		return
	}
	if err != nil {
		// Read errors (other than the deadline-based poke Unregister uses to
		// stop the pump) do not end the session; the table's sweep and the
		// per-hop timeout still make forward progress.
		return
	}

	s.mu.Lock()
	family := s.family
	identifier := s.identifier
	skip := s.cfg.SkipIdentifierFilter
	s.mu.Unlock()

	class := icmpwire.Classify(family, data, identifier, skip)
	if class.Kind == icmpwire.Malformed || class.Kind == icmpwire.Other {
		return
	}

	router := peerIP(peer)
	s.mu.Lock()
	out := s.controller.handleReply(class, time.Now(), router)
	s.mu.Unlock()
	if !out.Matched {
		return
	}

	s.cancelHopTimer()
	s.stats.RecordResponse(out.Result.RTT)
	s.observer.OnResponse(out.Result.HopNumber, out.Result.RTT)
	s.recordHopResult(out.Result)

	if out.Finished {
		s.finish(true)
		return
	}
	s.enterHop(out.NextHop)
}

func (s *Session) recordHopResult(r HopResult) {
	s.mu.Lock()
	s.hopResults = append(s.hopResults, r)
	s.mu.Unlock()
	s.observer.OnHopCompleted(r)
	s.observer.OnStatistics(s.stats.Snapshot())
}

func (s *Session) nextSequence() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq
	s.seq++
	return seq
}

func (s *Session) finish(reachedTarget bool) {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	s.state = StateFinished
	s.mu.Unlock()

	s.teardown()
	s.observer.OnFinished(s.buildResult(reachedTarget))
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if isTerminal(s.state) {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.mu.Unlock()

	s.teardown()
	s.observer.OnFailed(err)
}

func (s *Session) teardown() {
	s.cancelHopTimer()
	s.mu.Lock()
	if s.sweepTimerSet {
		s.reactor.CancelTimer(s.sweepTimer)
		s.sweepTimerSet = false
	}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.reactor.Unregister(conn)
		conn.Close()
	}
	s.table.Clear()
}

func (s *Session) buildResult(reachedTarget bool) SessionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var actual uint8
	if len(s.hopResults) > 0 {
		actual = s.hopResults[len(s.hopResults)-1].HopNumber
	}
	var total time.Duration
	if !s.startedAt.IsZero() {
		total = time.Since(s.startedAt)
	}
	return SessionResult{
		TargetHostname: s.targetHost,
		TargetAddress:  s.targetAddr,
		MaxHops:        s.cfg.MaxHops,
		ActualHops:     actual,
		TotalTime:      total,
		Hops:           append([]HopResult(nil), s.hopResults...),
		ReachedTarget:  reachedTarget,
		Statistics:     s.stats.Snapshot(),
	}
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}
