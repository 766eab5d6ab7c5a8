// Package originpool selects among the addresses a hostname resolves
// to and dials one of them for a forward-proxy request. A forward
// proxy has no fixed backend list the way a reverse proxy does; the
// "backends" here are whichever IPs DNS returned for the hostname the
// client asked for, and the same round-robin / least-connections /
// weighted-round-robin algorithms the reverse-proxy load balancer uses
// are reused to spread dials across them and route around one that
// stopped accepting connections.
package originpool

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/mendesjr/fproxy/internal/loadbalancer"
)

// Pool dials one of a hostname's resolved addresses.
type Pool struct {
	lb loadbalancer.LoadBalancer
}

// NewPool builds a Pool over addrs (already resolved for one
// hostname), selecting among them with the named algorithm.
func NewPool(algorithm string, port int, addrs []netip.Addr) (*Pool, error) {
	backends := make([]loadbalancer.Backend, len(addrs))
	for i, a := range addrs {
		backends[i] = loadbalancer.NewAddrBackend(net.JoinHostPort(a.String(), fmt.Sprint(port)), 1)
	}

	lb, err := loadbalancer.NewLoadBalancer(algorithm, backends)
	if err != nil {
		return nil, err
	}
	return &Pool{lb: lb}, nil
}

// Dial selects a backend and dials it. On failure the backend is
// marked unhealthy so the next Dial call skips it, and the next
// healthy backend (if any) is tried. Dial gives up once it has tried
// every backend once.
func (p *Pool) Dial(ctx context.Context) (net.Conn, error) {
	attempts := len(p.lb.GetBackends())
	if attempts == 0 {
		return nil, fmt.Errorf("originpool: no backends")
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		backend, err := p.lb.SelectBackend()
		if err != nil {
			return nil, err
		}

		conn, err := backend.Dial(ctx)
		if err == nil {
			return conn, nil
		}

		lastErr = err
		backend.SetHealthy(false)
	}
	return nil, fmt.Errorf("originpool: all backends failed, last error: %w", lastErr)
}

// MarkResult reports whether the last dial of addr succeeded, letting
// the background health prober restore an address that recovered.
func (p *Pool) MarkResult(addr string, healthy bool) {
	p.lb.UpdateBackendHealth(addr, healthy)
}

// Backends exposes the pool's backends for health probing.
func (p *Pool) Backends() []loadbalancer.Backend {
	return p.lb.GetBackends()
}
