package loadbalancer

import (
	"context"
	"net"
	"sync/atomic"
)

// Backend represents one dialable address for an origin hostname
// Selection among several addresses for the same hostname is what lets
// the proxy's origin pool reuse these algorithms instead of dialing the
// first resolved address blindly
type Backend interface {
	GetURL() string                 // Returns the address this backend dials ("host:port")
	IsHealthy() bool                // Returns current health status
	SetHealthy(bool)                // Updates health status
	Dial(ctx context.Context) (net.Conn, error) // Opens a connection to the backend
	GetConnections() int64          // Returns current connection count
	IncrementConnections()          // Increments active connections
	DecrementConnections()          // Decrements active connections
	GetWeight() int                 // Returns backend weight for weighted algorithms
	SetWeight(int)                  // Sets backend weight
}

// LoadBalancer defines interface for load balancing algorithms
// Abstracts load balancing strategy to support different algorithms
// Enables easy swapping between round-robin, weighted, least-connections, etc.
type LoadBalancer interface {
	SelectBackend() (Backend, error)              // Selects a backend to dial
	UpdateBackendHealth(string, bool)              // Updates backend health status
	GetBackends() []Backend                        // Returns all backends for monitoring
}

// AddrBackend implements Backend for a single resolved IP:port pair
// Dialing is a plain net.Dialer.DialContext; there is no HTTP client
// involved since the proxy forwards the raw byte stream itself
type AddrBackend struct {
	addr        string
	dialer      *net.Dialer
	healthy     atomic.Bool
	connections int64 // atomic
	weight      int
}

// NewAddrBackend creates a new backend dialing addr ("host:port")
// Starts healthy with the given weight, defaulting to 1 for non-positive values
func NewAddrBackend(addr string, weight int) *AddrBackend {
	if weight <= 0 {
		weight = 1
	}
	b := &AddrBackend{
		addr:   addr,
		dialer: &net.Dialer{},
		weight: weight,
	}
	b.healthy.Store(true)
	return b
}

func (b *AddrBackend) GetURL() string { return b.addr }

func (b *AddrBackend) IsHealthy() bool { return b.healthy.Load() }

func (b *AddrBackend) SetHealthy(healthy bool) { b.healthy.Store(healthy) }

// Dial opens a TCP connection to the backend's address, tracking it as
// an active connection for the lifetime of the caller's use; callers
// are responsible for calling DecrementConnections when done
func (b *AddrBackend) Dial(ctx context.Context) (net.Conn, error) {
	conn, err := b.dialer.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return nil, err
	}
	b.IncrementConnections()
	return conn, nil
}

func (b *AddrBackend) GetConnections() int64 {
	return atomic.LoadInt64(&b.connections)
}

func (b *AddrBackend) IncrementConnections() {
	atomic.AddInt64(&b.connections, 1)
}

func (b *AddrBackend) DecrementConnections() {
	atomic.AddInt64(&b.connections, -1)
}

func (b *AddrBackend) GetWeight() int { return b.weight }

func (b *AddrBackend) SetWeight(weight int) {
	if weight <= 0 {
		weight = 1
	}
	b.weight = weight
}
