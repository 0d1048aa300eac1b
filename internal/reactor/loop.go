package reactor

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type eventKind int

const (
	eventReadable eventKind = iota
	eventTimer
)

type event struct {
	kind    eventKind
	connID  uint64
	data    []byte
	peer    net.Addr
	err     error
	timerID uint64
}

type registeredConn struct {
	conn    Conn
	cb      ReadCallback
	bufSize int
	stopped atomic.Bool
}

type timerEntry struct {
	timer *time.Timer
	cb    TimerCallback
}

// Loop is the default Reactor: one dispatch goroutine serializes every
// callback; a background "pump" goroutine per registered Conn performs the
// actual blocking ReadFrom and forwards results over a channel, the same
// goroutine-plus-channel-plus-select idiom used for blocking I/O elsewhere
// in this codebase's ecosystem (cf. a health checker that runs a blocking
// call on a goroutine and joins it via a channel selected against
// ctx.Done()).
type Loop struct {
	events chan event
	done   chan struct{}
	once   sync.Once

	mu          sync.Mutex
	nextConnID  uint64
	nextTimerID uint64
	conns       map[uint64]*registeredConn
	connIndex   map[Conn]uint64
	timers      map[uint64]*timerEntry
}

// New creates a Loop ready to register connections and timers. Run must be
// called to start dispatching.
func New() *Loop {
	return &Loop{
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		conns:     make(map[uint64]*registeredConn),
		connIndex: make(map[Conn]uint64),
		timers:    make(map[uint64]*timerEntry),
	}
}

// RegisterReadable implements Reactor.
func (l *Loop) RegisterReadable(conn Conn, bufSize int, cb ReadCallback) error {
	l.mu.Lock()
	id := l.nextConnID
	l.nextConnID++
	rc := &registeredConn{conn: conn, cb: cb, bufSize: bufSize}
	l.conns[id] = rc
	l.connIndex[conn] = id
	l.mu.Unlock()

	go l.pump(id, rc)
	return nil
}

// Unregister implements Reactor.
func (l *Loop) Unregister(conn Conn) error {
	l.mu.Lock()
	id, ok := l.connIndex[conn]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	rc := l.conns[id]
	delete(l.conns, id)
	delete(l.connIndex, conn)
	l.mu.Unlock()

	rc.stopped.Store(true)
	// Unblock a pending ReadFrom so the pump goroutine can exit promptly.
	_ = conn.SetReadDeadline(time.Now())
	return nil
}

func (l *Loop) pump(id uint64, rc *registeredConn) {
	buf := make([]byte, rc.bufSize)
	for {
		n, peer, err := rc.conn.ReadFrom(buf)
		if rc.stopped.Load() {
			return
		}
		if err != nil {
			l.send(event{kind: eventReadable, connID: id, err: err, peer: peer})
			if isPermanent(err) {
				return
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		l.send(event{kind: eventReadable, connID: id, data: data, peer: peer})
	}
}

func isPermanent(err error) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false
	}
	return true
}

func (l *Loop) send(ev event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// ScheduleTimer implements Reactor.
func (l *Loop) ScheduleTimer(delay time.Duration, cb TimerCallback) TimerHandle {
	l.mu.Lock()
	id := l.nextTimerID
	l.nextTimerID++
	entry := &timerEntry{cb: cb}
	l.timers[id] = entry
	l.mu.Unlock()

	entry.timer = time.AfterFunc(delay, func() {
		l.send(event{kind: eventTimer, timerID: id})
	})
	return TimerHandle(id)
}

// CancelTimer implements Reactor.
func (l *Loop) CancelTimer(h TimerHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.timers[uint64(h)]; ok {
		entry.timer.Stop()
		delete(l.timers, uint64(h))
	}
}

// Run implements Reactor. It dispatches events until ctx is cancelled or
// Stop is called, and then returns ctx.Err() (nil if stopped via Stop).
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case ev := <-l.events:
			l.dispatch(ev)
		}
	}
}

func (l *Loop) dispatch(ev event) {
	switch ev.kind {
	case eventReadable:
		l.mu.Lock()
		rc, ok := l.conns[ev.connID]
		l.mu.Unlock()
		if !ok || rc.stopped.Load() {
			return
		}
		rc.cb(ev.data, ev.peer, ev.err)

	case eventTimer:
		l.mu.Lock()
		entry, ok := l.timers[ev.timerID]
		if ok {
			delete(l.timers, ev.timerID)
		}
		l.mu.Unlock()
		if ok {
			entry.cb()
		}
	}
}

// Stop implements Reactor.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}
