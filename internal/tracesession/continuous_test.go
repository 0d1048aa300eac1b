package tracesession

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
	"github.com/halvorsenlars/tracepath/internal/reactor"
)

type recordedPingObserver struct {
	started []net.IP
	replies []time.Duration
	diags   []string
	stats   []Statistics
	stopped []Statistics
	failed  []error
}

func (o *recordedPingObserver) OnStarted(ip net.IP) { o.started = append(o.started, ip) }
func (o *recordedPingObserver) OnReply(seq uint16, rtt time.Duration) { o.replies = append(o.replies, rtt) }
func (o *recordedPingObserver) OnDiagnostic(desc string) { o.diags = append(o.diags, desc) }
func (o *recordedPingObserver) OnStatistics(s Statistics) { o.stats = append(o.stats, s) }
func (o *recordedPingObserver) OnStopped(s Statistics) { o.stopped = append(o.stopped, s) }
func (o *recordedPingObserver) OnFailed(err error) { o.failed = append(o.failed, err) }

func newTestPinger(addr net.IP) (*ContinuousPinger, *fakeReactor, *fakeConn, *recordedPingObserver) {
	rx := newFakeReactor()
	conn := &fakeConn{}
	obs := &recordedPingObserver{}
	cfg := SessionConfig{MaxHops: 30, PerHopTimeout: 5 * time.Second, ProbesPerHop: 1, InterProbeGap: time.Millisecond}
	p := NewContinuousPinger(cfg, rx, fakeResolver{addr: addr}, obs, 0xCAFE)
	p.openSocket = func(family icmpwire.Family) (openedSocket, error) {
		return openedSocket{conn: conn, unprivileged: false, setHop: func(int) error { return nil }}, nil
	}
	return p, rx, conn, obs
}

// TestContinuousPingerLossCalculation sends 10 echoes, drops two replies,
// and checks that the terminal loss percentage and latency stats are
// derived purely from what was observed.
func TestContinuousPingerLossCalculation(t *testing.T) {
	p, rx, _, obs := newTestPinger(net.ParseIP("192.0.2.1"))

	if err := p.Ping(context.Background(), "probe.example", 0); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(obs.started) != 1 {
		t.Fatalf("expected OnStarted once, got %d", len(obs.started))
	}

	dropped := map[int]bool{3: true, 6: true} // replies #4 and #7, zero-indexed
	for i := 0; i < 10; i++ {
		p.sendOne()
		if !dropped[i] {
			datagram := icmpwire.BuildEcho(icmpwire.V4, 0xCAFE, uint16(i), nil)
			datagram[0] = icmpwire.ICMPv4EchoReply
			rx.readCB(datagram, &net.IPAddr{IP: net.ParseIP("192.0.2.1")}, nil)
		}
	}

	snap := p.stats.Snapshot()
	if snap.ProbesSent != 10 {
		t.Fatalf("ProbesSent = %d, want 10", snap.ProbesSent)
	}
	if snap.ResponsesReceived != 8 {
		t.Fatalf("ResponsesReceived = %d, want 8", snap.ResponsesReceived)
	}
	if snap.LossPct != 20.0 {
		t.Fatalf("LossPct = %v, want 20.0", snap.LossPct)
	}
}

func TestContinuousPingerRejectsConcurrentPing(t *testing.T) {
	p, _, _, _ := newTestPinger(net.ParseIP("192.0.2.1"))
	if err := p.Ping(context.Background(), "probe.example", time.Second); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_, err := p.PingOnce(context.Background(), "probe.example", time.Second)
	se, ok := err.(*SessionError)
	if !ok || se.Kind != KindContinuousRunning {
		t.Fatalf("expected ContinuousRunning, got %v", err)
	}
}

func TestContinuousPingerStopIsIdempotent(t *testing.T) {
	p, _, _, obs := newTestPinger(net.ParseIP("192.0.2.1"))
	if err := p.Ping(context.Background(), "probe.example", time.Second); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	p.Stop()
	p.Stop()
	if len(obs.stopped) != 1 {
		t.Fatalf("Stop must emit exactly one terminal stats snapshot, got %d", len(obs.stopped))
	}
}

func TestContinuousPingerDiagnosticForUnreachable(t *testing.T) {
	p, rx, _, obs := newTestPinger(net.ParseIP("192.0.2.1"))
	if err := p.Ping(context.Background(), "probe.example", 0); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	p.sendOne()

	inner := make([]byte, 20+8)
	inner[0] = 0x45
	inner[20] = icmpwire.ICMPv4EchoRequest
	inner[24], inner[25] = 0xCA, 0xFE // must match the pinger's identifier to pass the filter
	datagram := make([]byte, 8+len(inner))
	datagram[0] = icmpwire.ICMPv4Unreachable
	datagram[1] = 1 // host unreachable
	copy(datagram[8:], inner)

	rx.readCB(datagram, &net.IPAddr{IP: net.ParseIP("192.0.2.1")}, nil)

	if len(obs.diags) != 1 || obs.diags[0] != "Destination Host Unreachable" {
		t.Fatalf("diagnostics = %v", obs.diags)
	}
}

// echoConn reflects every written Echo Request back as an Echo Reply,
// simulating a loopback round trip. Reads block until a reply is queued,
// so it can be pumped by a real reactor.Loop without spinning.
type echoConn struct {
	mu      sync.Mutex
	closed  bool
	replies chan []byte
}

func newEchoConn() *echoConn {
	return &echoConn{replies: make(chan []byte, 16)}
}

func (c *echoConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	reply := append([]byte(nil), b...)
	reply[0] = icmpwire.ICMPv4EchoReply
	c.replies <- reply
	return len(b), nil
}

func (c *echoConn) ReadFrom(b []byte) (int, net.Addr, error) {
	data, ok := <-c.replies
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return copy(b, data), &net.IPAddr{IP: net.ParseIP("192.0.2.1")}, nil
}

func (c *echoConn) SetReadDeadline(time.Time) error { return nil }

func (c *echoConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.replies)
	}
	return nil
}

// silentConn swallows writes and never produces a reply.
type silentConn struct {
	done chan struct{}
	once sync.Once
}

func newSilentConn() *silentConn { return &silentConn{done: make(chan struct{})} }

func (c *silentConn) WriteTo(b []byte, addr net.Addr) (int, error) { return len(b), nil }

func (c *silentConn) ReadFrom(b []byte) (int, net.Addr, error) {
	<-c.done
	return 0, nil, errors.New("closed")
}

func (c *silentConn) SetReadDeadline(time.Time) error { return nil }

func (c *silentConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func newLoopPinger(conn socketConn) (*ContinuousPinger, *reactor.Loop, *recordedPingObserver, func()) {
	loop := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	obs := &recordedPingObserver{}
	cfg := DefaultSessionConfig()
	p := NewContinuousPinger(cfg, loop, fakeResolver{addr: net.ParseIP("192.0.2.1")}, obs, 0xCAFE)
	p.openSocket = func(family icmpwire.Family) (openedSocket, error) {
		return openedSocket{conn: conn, unprivileged: false, setHop: func(int) error { return nil }}, nil
	}
	return p, loop, obs, func() {
		loop.Stop()
		cancel()
	}
}

func TestPingOnceReturnsRTT(t *testing.T) {
	conn := newEchoConn()
	p, _, obs, stop := newLoopPinger(conn)
	defer stop()

	rtt, err := p.PingOnce(context.Background(), "probe.example", 2*time.Second)
	if err != nil {
		t.Fatalf("PingOnce: %v", err)
	}
	if rtt <= 0 {
		t.Fatalf("rtt = %v, want > 0", rtt)
	}
	if len(obs.replies) != 1 {
		t.Fatalf("expected one OnReply, got %d", len(obs.replies))
	}
	if h := p.History(); len(h) != 1 || h[0] != rtt {
		t.Fatalf("History() = %v, want [%v]", h, rtt)
	}

	snap := p.stats.Snapshot()
	if snap.ProbesSent != 1 || snap.ResponsesReceived != 1 || snap.Timeouts != 0 {
		t.Fatalf("stats = %+v", snap)
	}
}

func TestPingOnceTimesOut(t *testing.T) {
	conn := newSilentConn()
	p, _, _, stop := newLoopPinger(conn)
	defer stop()

	_, err := p.PingOnce(context.Background(), "probe.example", 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("expected Timeout, got %v", err)
	}

	snap := p.stats.Snapshot()
	if snap.ProbesSent != 1 || snap.Timeouts != 1 {
		t.Fatalf("stats = %+v", snap)
	}
	if p.table.Len() != 0 {
		t.Fatalf("timed-out probe must be removed from the table, len = %d", p.table.Len())
	}
}

func TestPingOnceRejectsConcurrentPingOnce(t *testing.T) {
	conn := newSilentConn()
	p, _, _, stop := newLoopPinger(conn)
	defer stop()

	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		close(started)
		p.PingOnce(context.Background(), "probe.example", 200*time.Millisecond)
		close(finished)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	_, err := p.PingOnce(context.Background(), "probe.example", time.Second)
	var se *SessionError
	if !errors.As(err, &se) || se.Kind != KindAlreadyInProgress {
		t.Fatalf("expected AlreadyInProgress, got %v", err)
	}
	<-finished
}
