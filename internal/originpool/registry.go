package originpool

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mendesjr/fproxy/internal/logging"
	"github.com/mendesjr/fproxy/internal/metrics"
	"github.com/mendesjr/fproxy/internal/resolver"
)

// Registry lazily resolves and caches a Pool per "hostname:port",
// re-resolving and replacing stale pools so a hostname whose DNS
// answer changes picks up the new addresses.
type Registry struct {
	resolver  resolver.Resolver
	algorithm string
	ttl       time.Duration
	metrics   *metrics.Metrics
	log       *logging.Logger

	mu    sync.Mutex
	pools map[string]*registryEntry
}

type registryEntry struct {
	pool     *Pool
	resolved time.Time
}

// NewRegistry builds a Registry that resolves hostnames with r and
// selects among resolved addresses with algorithm, re-resolving a
// hostname's addresses after ttl has elapsed since the last lookup.
func NewRegistry(r resolver.Resolver, algorithm string, ttl time.Duration) *Registry {
	return &Registry{
		resolver:  r,
		algorithm: algorithm,
		ttl:       ttl,
		pools:     make(map[string]*registryEntry),
	}
}

// Get returns the Pool for hostname:port, resolving it if this is the
// first request for that pair or the cached entry has expired.
func (reg *Registry) Get(ctx context.Context, hostname string, port int) (*Pool, error) {
	key := fmt.Sprintf("%s:%d", hostname, port)

	reg.mu.Lock()
	entry, ok := reg.pools[key]
	reg.mu.Unlock()

	if ok && time.Since(entry.resolved) < reg.ttl {
		return entry.pool, nil
	}

	addrs, err := reg.resolver.Resolve(ctx, hostname)
	if err != nil {
		return nil, err
	}

	pool, err := NewPool(reg.algorithm, port, addrs)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	reg.pools[key] = &registryEntry{pool: pool, resolved: time.Now()}
	reg.mu.Unlock()

	return pool, nil
}

// SetMetrics attaches m so every health probe also updates the
// proxy_origin_backend_health gauge. Passing nil (the default) disables
// this reporting without affecting probing itself.
func (reg *Registry) SetMetrics(m *metrics.Metrics) {
	reg.metrics = m
}

// SetLogger attaches log so health-check transitions are reported:
// a backend going unhealthy logs a warning, one recovering logs info,
// and an unchanged probe logs at debug level. Passing nil (the default)
// disables this reporting without affecting probing itself.
func (reg *Registry) SetLogger(log *logging.Logger) {
	reg.log = log
}

// StartHealthChecks begins background dial-based health monitoring of
// every pool currently registered, on the given interval, until ctx is
// canceled. It mirrors the reverse-proxy load balancer's health-check
// loop, substituting a raw TCP dial for the HTTP health endpoint probe
// since an arbitrary proxied origin exposes no health path.
func (reg *Registry) StartHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reg.performHealthChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.performHealthChecks(ctx)
		}
	}
}

func (reg *Registry) performHealthChecks(ctx context.Context) {
	reg.mu.Lock()
	pools := make([]*Pool, 0, len(reg.pools))
	for _, entry := range reg.pools {
		pools = append(pools, entry.pool)
	}
	reg.mu.Unlock()

	for _, pool := range pools {
		for _, backend := range pool.Backends() {
			wasHealthy := backend.IsHealthy()
			healthy := probe(ctx, backend.GetURL())
			pool.MarkResult(backend.GetURL(), healthy)

			if reg.metrics != nil {
				reg.metrics.UpdateOriginHealth(backend.GetURL(), healthy)
			}
			reg.logTransition(ctx, backend.GetURL(), wasHealthy, healthy)
		}
	}
}

func (reg *Registry) logTransition(ctx context.Context, addr string, wasHealthy, healthy bool) {
	if reg.log == nil {
		return
	}
	switch {
	case wasHealthy && !healthy:
		reg.log.Warn(ctx, "origin backend marked unhealthy", slog.String("addr", addr))
	case !wasHealthy && healthy:
		reg.log.Info(ctx, "origin backend recovered", slog.String("addr", addr))
	default:
		reg.log.Debug(ctx, "origin backend probed", slog.String("addr", addr), slog.Bool("healthy", healthy))
	}
}

func probe(ctx context.Context, addr string) bool {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
