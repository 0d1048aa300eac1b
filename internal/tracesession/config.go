// Package tracesession implements the traceroute engine's top-level state
// machine: Session, its hop controller, the derived Statistics view, and
// the ContinuousPinger specialization. It consumes three external
// capabilities (Resolver, reactor.Reactor, and Observer) and owns
// everything else: the socket, the timer, the probe table, and the hop
// state.
package tracesession

import (
	"time"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
)

// SessionConfig holds the tunables for a single traceroute.
type SessionConfig struct {
	// MaxHops bounds the TTL/hop-limit the session will probe up to.
	MaxHops uint8
	// PerHopTimeout bounds how long a hop waits for any reply before its
	// outstanding probes are reported as timed out.
	PerHopTimeout time.Duration
	// ProbesPerHop is how many Echo Requests are sent per hop.
	ProbesPerHop uint8
	// InterProbeGap is the fixed delay between probes within one hop.
	InterProbeGap time.Duration
	// AddressStyle constrains which address family the resolver may hand
	// back.
	AddressStyle icmpwire.AddressStyle
	// SkipIdentifierFilter, when true, disables filtering replies by ICMP
	// Identifier. Set this when the socket is an unprivileged ICMP
	// datagram socket whose kernel may rewrite the Identifier field;
	// Start sets it automatically in that case, but it can be forced for
	// test doubles.
	SkipIdentifierFilter bool
}

// DefaultSessionConfig returns the default SessionConfig.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxHops:       30,
		PerHopTimeout: 5 * time.Second,
		ProbesPerHop:  3,
		InterProbeGap: 10 * time.Millisecond,
		AddressStyle:  icmpwire.Any,
	}
}

// Validate bounds-checks the configuration, returning an
// InvalidConfiguration error describing the first violation found.
func (c SessionConfig) Validate() error {
	if c.MaxHops < 1 {
		return newError(KindInvalidConfiguration, ErrInvalidConfiguration, "max_hops must be >= 1")
	}
	if c.PerHopTimeout <= 0 || c.PerHopTimeout > 60*time.Second {
		return newError(KindInvalidConfiguration, ErrInvalidConfiguration, "per_hop_timeout must be in (0, 60s]")
	}
	if c.ProbesPerHop < 1 || c.ProbesPerHop > 10 {
		return newError(KindInvalidConfiguration, ErrInvalidConfiguration, "probes_per_hop must be in [1, 10]")
	}
	return nil
}
