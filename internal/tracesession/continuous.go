package tracesession

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
	"github.com/halvorsenlars/tracepath/internal/probetable"
	"github.com/halvorsenlars/tracepath/internal/reactor"
)

// defaultLatencyHistory is the bounded capacity of ContinuousPinger's
// latency history.
const defaultLatencyHistory = 100

// PingObserver is ContinuousPinger's notification surface: a reply or a
// non-fatal diagnostic for an unexpected (non-Echo-Reply) packet.
type PingObserver interface {
	OnStarted(target net.IP)
	OnReply(seq uint16, rtt time.Duration)
	OnDiagnostic(description string)
	OnStatistics(stats Statistics)
	OnStopped(stats Statistics)
	OnFailed(err error)
}

// ContinuousPinger is the traceroute engine's reduced mode: it pins TTL to
// its platform default (no SetHopValue call after the socket opens), sends
// one Echo per interval, and matches Echo Replies only.
type ContinuousPinger struct {
	reactor    reactor.Reactor
	resolver   Resolver
	observer   PingObserver
	cfg        SessionConfig
	openSocket func(icmpwire.Family) (openedSocket, error)

	mu           sync.Mutex
	running      bool
	pingOnceBusy bool
	onceSeq      uint16
	onceCh       chan time.Duration

	identifier uint16
	seq        uint16

	conn       socketConn
	family     icmpwire.Family
	writeAddr  net.Addr
	targetAddr net.IP

	table   *probetable.Table
	stats   *statsTracker
	history []time.Duration

	intervalTimer    reactor.TimerHandle
	intervalTimerSet bool
}

// NewContinuousPinger constructs an idle ContinuousPinger.
func NewContinuousPinger(cfg SessionConfig, rx reactor.Reactor, resolver Resolver, observer PingObserver, identifier uint16) *ContinuousPinger {
	return &ContinuousPinger{
		reactor:    rx,
		resolver:   resolver,
		observer:   observer,
		cfg:        cfg,
		identifier: identifier,
		table:      probetable.New(),
		stats:      newStatsTracker(),
		openSocket: defaultSocketOpener,
	}
}

// Ping begins continuous emission. An interval of 0 suppresses periodic
// sends; the pinger still counts as running, so PingOnce is rejected with
// ContinuousRunning until Stop.
func (p *ContinuousPinger) Ping(ctx context.Context, hostname string, interval time.Duration) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return newError(KindAlreadyRunning, ErrAlreadyRunning, "")
	}
	p.running = true
	p.mu.Unlock()

	if err := p.open(ctx, hostname); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		p.observer.OnFailed(err)
		return err
	}

	p.observer.OnStarted(p.targetAddr)
	if interval > 0 {
		p.sendOne()
		p.armInterval(interval)
	}
	return nil
}

// PingOnce sends a single probe and blocks the caller's goroutine until a
// reply arrives, timeout expires, or ctx is cancelled. It may not be called
// while continuous mode or another PingOnce is in flight.
func (p *ContinuousPinger) PingOnce(ctx context.Context, hostname string, timeout time.Duration) (time.Duration, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return 0, newError(KindContinuousRunning, ErrContinuousRunning, "")
	}
	if p.pingOnceBusy {
		p.mu.Unlock()
		return 0, newError(KindAlreadyInProgress, ErrAlreadyInProgress, "")
	}
	p.pingOnceBusy = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.pingOnceBusy = false
		p.mu.Unlock()
	}()

	if p.conn == nil {
		if err := p.open(ctx, hostname); err != nil {
			return 0, err
		}
	}

	seq := p.nextSequence()
	sentAt := time.Now()
	result := make(chan time.Duration, 1)
	p.mu.Lock()
	p.onceSeq = seq
	p.onceCh = result
	p.mu.Unlock()

	p.table.Record(seq, 0, 0, sentAt)
	payload := icmpwire.EchoPayload{SentAt: sentAt, Hop: 0, ProbeIndex: 0}.Encode()
	packet := icmpwire.BuildEcho(p.family, p.identifier, seq, payload)
	if _, err := p.conn.WriteTo(packet, p.writeAddr); err != nil {
		p.clearOnceWaiter(seq)
		p.table.Take(seq)
		return 0, wrapError(KindNetworkError, ErrNetworkError, err)
	}
	p.stats.RecordSent()

	timer := p.reactor.ScheduleTimer(timeout, func() {
		if ch := p.clearOnceWaiter(seq); ch != nil {
			p.table.Take(seq)
			p.stats.RecordTimeout()
			ch <- -1
		}
	})

	select {
	case rtt := <-result:
		if rtt < 0 {
			return 0, newError(KindTimeout, ErrTimeout, "")
		}
		p.reactor.CancelTimer(timer)
		return rtt, nil
	case <-ctx.Done():
		p.reactor.CancelTimer(timer)
		p.clearOnceWaiter(seq)
		p.table.Take(seq)
		return 0, ctx.Err()
	}
}

// clearOnceWaiter atomically claims the in-flight PingOnce waiter for seq.
// Exactly one of the reply path, the timeout timer, and cancellation wins;
// the others see nil and stand down.
func (p *ContinuousPinger) clearOnceWaiter(seq uint16) chan time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onceCh == nil || p.onceSeq != seq {
		return nil
	}
	ch := p.onceCh
	p.onceCh = nil
	return ch
}

// Stop idempotently tears down continuous mode.
func (p *ContinuousPinger) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	if p.intervalTimerSet {
		p.reactor.CancelTimer(p.intervalTimer)
		p.intervalTimerSet = false
	}
	conn := p.conn
	p.mu.Unlock()

	if conn != nil {
		p.reactor.Unregister(conn)
		conn.Close()
	}
	p.table.Clear()
	p.observer.OnStopped(p.stats.Snapshot())
}

func (p *ContinuousPinger) open(ctx context.Context, hostname string) error {
	candidates, err := p.resolver.Resolve(ctx, hostname)
	if err != nil {
		return wrapError(KindResolutionFailed, ErrResolutionFailed, err)
	}
	addr, err := firstCompatible(candidates, p.cfg.AddressStyle)
	if err != nil {
		return err
	}

	family := icmpwire.FamilyOf(addr)
	opened, err := p.openSocket(family)
	if err != nil {
		return wrapError(KindSystemError, ErrSystemError, err)
	}

	p.mu.Lock()
	p.conn = opened.conn
	p.family = family
	p.targetAddr = addr
	p.cfg.SkipIdentifierFilter = p.cfg.SkipIdentifierFilter || opened.unprivileged
	if opened.unprivileged {
		p.writeAddr = &net.UDPAddr{IP: addr}
	} else {
		p.writeAddr = &net.IPAddr{IP: addr}
	}
	p.mu.Unlock()

	return p.reactor.RegisterReadable(opened.conn, 1500, p.onReadable)
}

func (p *ContinuousPinger) armInterval(interval time.Duration) {
	p.mu.Lock()
	p.intervalTimer = p.reactor.ScheduleTimer(interval, func() { p.onInterval(interval) })
	p.intervalTimerSet = true
	p.mu.Unlock()
}

func (p *ContinuousPinger) onInterval(interval time.Duration) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}
	p.sendOne()
	p.armInterval(interval)
}

func (p *ContinuousPinger) sendOne() {
	seq := p.nextSequence()
	sentAt := time.Now()
	p.table.Record(seq, 0, 0, sentAt)
	payload := icmpwire.EchoPayload{SentAt: sentAt, Hop: 0, ProbeIndex: 0}.Encode()
	packet := icmpwire.BuildEcho(p.family, p.identifier, seq, payload)
	if _, err := p.conn.WriteTo(packet, p.writeAddr); err != nil {
		return
	}
	p.stats.RecordSent()
	p.observer.OnStatistics(p.stats.Snapshot())
}

func (p *ContinuousPinger) onReadable(data []byte, peer net.Addr, err error) {
	if err != nil {
		return
	}
	p.mu.Lock()
	family := p.family
	identifier := p.identifier
	skip := p.cfg.SkipIdentifierFilter
	p.mu.Unlock()

	class := icmpwire.Classify(family, data, identifier, skip)
	switch class.Kind {
	case icmpwire.Malformed:
		return
	case icmpwire.Other:
		return
	case icmpwire.EchoReply:
		rec, ok := p.table.Take(class.Seq)
		if !ok {
			return
		}
		rtt := time.Since(rec.SentAt)
		p.stats.RecordResponse(rtt)
		p.recordHistory(rtt)
		p.observer.OnReply(class.Seq, rtt)
		p.observer.OnStatistics(p.stats.Snapshot())
		if ch := p.clearOnceWaiter(rec.Sequence); ch != nil {
			ch <- rtt
		}
	case icmpwire.TimeExceeded:
		p.table.Take(class.Seq)
		p.observer.OnDiagnostic("Time Exceeded (TTL Exceeded)")
	case icmpwire.Unreachable:
		p.table.Take(class.Seq)
		p.observer.OnDiagnostic(unreachableDescription(class.Code))
	}
}

// History returns a copy of the bounded latency history, oldest reply
// first. At most defaultLatencyHistory entries are retained.
func (p *ContinuousPinger) History() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.history...)
}

func (p *ContinuousPinger) recordHistory(rtt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, rtt)
	if len(p.history) > defaultLatencyHistory {
		p.history = p.history[len(p.history)-defaultLatencyHistory:]
	}
}

func (p *ContinuousPinger) nextSequence() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.seq
	p.seq++
	return seq
}

func unreachableDescription(code uint8) string {
	switch code {
	case 0:
		return "Destination Network Unreachable"
	case 1:
		return "Destination Host Unreachable"
	case 3:
		return "Destination Port Unreachable"
	default:
		return "Destination Unreachable"
	}
}
