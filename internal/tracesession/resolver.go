package tracesession

import (
	"context"
	"net"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
)

// Resolver is the capability Session uses to turn a hostname into candidate
// addresses. It returns every address the lookup produced,
// unfiltered by style; Session picks the first entry compatible with its
// configured AddressStyle.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) ([]net.IP, error)
}

// NetResolver is the default Resolver, backed by net.DefaultResolver. A
// literal IP address is returned as-is without a DNS round trip.
type NetResolver struct{}

// Resolve implements Resolver.
func (NetResolver) Resolve(ctx context.Context, hostname string) ([]net.IP, error) {
	if hostname == "" {
		return nil, newError(KindInvalidHostname, ErrInvalidHostname, "empty hostname")
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return []net.IP{ip}, nil
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", hostname)
	if err != nil {
		return nil, wrapError(KindResolutionFailed, ErrResolutionFailed, err)
	}
	if len(ips) == 0 {
		return nil, newError(KindResolutionFailed, ErrResolutionFailed, "no addresses returned")
	}
	return ips, nil
}

// firstCompatible returns the first address in candidates whose family
// satisfies style, or an error if none does. Any prefers IPv4 when the
// lookup produced both families.
func firstCompatible(candidates []net.IP, style icmpwire.AddressStyle) (net.IP, error) {
	if style == icmpwire.Any {
		for _, ip := range candidates {
			if icmpwire.FamilyOf(ip) == icmpwire.V4 {
				return ip, nil
			}
		}
	}
	for _, ip := range candidates {
		if style.Accepts(icmpwire.FamilyOf(ip)) {
			return ip, nil
		}
	}
	return nil, newError(KindResolutionFailed, ErrResolutionFailed, "no address matched the configured address style")
}
