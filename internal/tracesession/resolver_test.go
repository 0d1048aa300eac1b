package tracesession

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/halvorsenlars/tracepath/internal/icmpwire"
)

func TestFirstCompatible(t *testing.T) {
	v4 := net.ParseIP("192.0.2.1")
	v6 := net.ParseIP("2001:db8::1")

	tests := []struct {
		name       string
		candidates []net.IP
		style      icmpwire.AddressStyle
		want       net.IP
		wantErr    bool
	}{
		{"any prefers v4 even when v6 is listed first", []net.IP{v6, v4}, icmpwire.Any, v4, false},
		{"any falls back to v6 when no v4 exists", []net.IP{v6}, icmpwire.Any, v6, false},
		{"v4only picks the v4 entry", []net.IP{v6, v4}, icmpwire.V4Only, v4, false},
		{"v4only rejects a v6-only list", []net.IP{v6}, icmpwire.V4Only, nil, true},
		{"v6only picks the v6 entry", []net.IP{v4, v6}, icmpwire.V6Only, v6, false},
		{"v6only rejects a v4-only list", []net.IP{v4}, icmpwire.V6Only, nil, true},
		{"empty list fails", nil, icmpwire.Any, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstCompatible(tt.candidates, tt.style)
			if tt.wantErr {
				if !errors.Is(err, ErrResolutionFailed) {
					t.Fatalf("err = %v, want ResolutionFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("firstCompatible: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("firstCompatible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNetResolverRejectsEmptyHostname(t *testing.T) {
	_, err := NetResolver{}.Resolve(context.Background(), "")
	if !errors.Is(err, ErrInvalidHostname) {
		t.Fatalf("err = %v, want InvalidHostname", err)
	}
}

func TestNetResolverReturnsLiteralWithoutLookup(t *testing.T) {
	ips, err := NetResolver{}.Resolve(context.Background(), "192.0.2.7")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("192.0.2.7")) {
		t.Fatalf("Resolve = %v", ips)
	}
}
