package resolver

import (
	"context"
	"net"
	"net/netip"
)

func defaultLookup(ctx context.Context, network, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, network, host)
}
