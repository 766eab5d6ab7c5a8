// Package resolver performs the hostname-to-address lookup the proxy
// needs before dialing an origin. It exists so origin connection
// selection can be tested and load-balanced the same way the backend
// pool abstractions already handle a static server list.
package resolver

import (
	"context"
	"fmt"
	"net/netip"
)

// Resolver looks up the IP addresses backing a hostname.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) ([]netip.Addr, error)
}

// netResolver is the production Resolver, backed by the standard
// library's resolver.
type netResolver struct {
	lookup func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// New returns a Resolver backed by net.DefaultResolver.
func New() Resolver {
	return &netResolver{lookup: defaultLookup}
}

func (r *netResolver) Resolve(ctx context.Context, hostname string) ([]netip.Addr, error) {
	addrs, err := r.lookup(ctx, "ip", hostname)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", hostname, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses returned", hostname)
	}
	return addrs, nil
}
