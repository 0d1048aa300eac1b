package tracesession

import (
	"net"
	"time"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
	"github.com/halvorsenlars/tracepath/internal/probetable"
)

// hopController is the per-session policy object for hop progression,
// probe-to-reply correlation, and the "fast progression" rule: the first
// classified reply for the current hop advances immediately,
// without waiting out the remainder of the per-hop timeout, and any later
// reply for a hop the session has already left behind is dropped rather
// than reported a second time. It holds no reactor or socket reference;
// Session consults it only through these return values, never the other
// way around.
type hopController struct {
	cfg        SessionConfig
	table      *probetable.Table
	currentHop uint8
}

func newHopController(cfg SessionConfig, table *probetable.Table) *hopController {
	return &hopController{cfg: cfg, table: table}
}

// enterOutcome is the result of asking the controller to begin a hop.
type enterOutcome struct {
	// Exceeded is true when h is past MaxHops; the session should finish
	// without reaching the destination.
	Exceeded bool
}

func (c *hopController) enterHop(h uint8) enterOutcome {
	if h > c.cfg.MaxHops {
		return enterOutcome{Exceeded: true}
	}
	c.currentHop = h
	return enterOutcome{}
}

// recordProbeSent stamps the probe table so a later reply or timeout sweep
// can find it again.
func (c *hopController) recordProbeSent(seq uint16, probeIndex uint8, sentAt time.Time) {
	c.table.Record(seq, c.currentHop, probeIndex, sentAt)
}

// replyOutcome is the result of handling one classified inbound datagram.
type replyOutcome struct {
	// Matched is false when the sequence number had no outstanding record
	// (already timed out and swept, or never ours) or belonged to a hop the
	// session has already advanced past; the caller should drop it silently.
	Matched bool
	Result  HopResult
	// Finished is true when this reply was the destination's Echo Reply.
	Finished bool
	// NextHop is the hop to enter next, valid when !Finished.
	NextHop uint8
}

// handleReply correlates a classified reply against the probe table and
// decides whether it completes the current hop. now and router are supplied
// by the caller since the controller has no clock or socket of its own.
func (c *hopController) handleReply(class icmpwire.Classification, now time.Time, router net.IP) replyOutcome {
	rec, ok := c.table.Take(class.Seq)
	if !ok || rec.Hop != c.currentHop {
		return replyOutcome{Matched: false}
	}

	result := HopResult{
		HopNumber:     rec.Hop,
		Router:        router,
		RTT:           now.Sub(rec.SentAt),
		IsDestination: class.Kind == icmpwire.EchoReply,
		Sequence:      rec.Sequence,
		ProbeIndex:    rec.ProbeIndex,
		ObservedAt:    now,
	}

	if result.IsDestination {
		return replyOutcome{Matched: true, Result: result, Finished: true}
	}
	return replyOutcome{Matched: true, Result: result, NextHop: rec.Hop + 1}
}

// timeoutOutcome is the result of a per-hop timer firing.
type timeoutOutcome struct {
	// Stale is true when the timer fired for a hop the session has already
	// left (a timer that raced a fast-progression advance); ignore it.
	Stale bool
	// Emitted is non-nil when at least one probe for the hop was still
	// outstanding and must be reported as timed out.
	Emitted *HopResult
	NextHop uint8
}

// handleHopTimeout collects whatever probes are still outstanding for hop
// when its per-hop timer fires. If fast progression already answered the
// hop, CollectForHop returns nothing and no HopResult is emitted.
func (c *hopController) handleHopTimeout(hop uint8, now time.Time) timeoutOutcome {
	if hop != c.currentHop {
		return timeoutOutcome{Stale: true}
	}
	recs := c.table.CollectForHop(hop)
	if len(recs) == 0 {
		return timeoutOutcome{NextHop: hop + 1}
	}
	first := recs[0]
	result := HopResult{
		HopNumber:  hop,
		RTT:        now.Sub(first.SentAt),
		IsTimeout:  true,
		Sequence:   first.Sequence,
		ProbeIndex: first.ProbeIndex,
		ObservedAt: now,
	}
	return timeoutOutcome{Emitted: &result, NextHop: hop + 1}
}
