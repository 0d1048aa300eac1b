package tracesession

import (
	"net"
	"time"
)

// Observer is the capability through which a Session reports its progress
// and terminal outcome (ContinuousPinger uses PingObserver). Every method is
// invoked on the reactor's single dispatch goroutine; implementations must
// not block and must not call back into the Session's Start/Stop from
// inside a callback.
type Observer interface {
	OnStarted(target net.IP)
	OnProbeSent(hop uint8, sequence uint16)
	OnResponse(hop uint8, rtt time.Duration)
	OnHopTimeout(hop uint8)
	OnHopCompleted(result HopResult)
	OnStatistics(stats Statistics)
	OnFinished(result SessionResult)
	OnFailed(err error)
}

// NoopObserver implements Observer with no-op methods. Embed it to
// implement only the callbacks a particular caller cares about.
type NoopObserver struct{}

func (NoopObserver) OnStarted(net.IP) {}
func (NoopObserver) OnProbeSent(uint8, uint16) {}
func (NoopObserver) OnResponse(uint8, time.Duration) {}
func (NoopObserver) OnHopTimeout(uint8) {}
func (NoopObserver) OnHopCompleted(HopResult) {}
func (NoopObserver) OnStatistics(Statistics) {}
func (NoopObserver) OnFinished(SessionResult) {}
func (NoopObserver) OnFailed(error) {}
