package loadbalancer

import (
	"fmt"
	"strings"
)

// LoadBalancerType represents different load balancing algorithms
// Enables type-safe selection of load balancing strategies
type LoadBalancerType string

const (
	RoundRobin         LoadBalancerType = "round-robin"
	LeastConnections   LoadBalancerType = "least-connections"
	WeightedRoundRobin LoadBalancerType = "weighted-round-robin"
)

// NewLoadBalancer builds a LoadBalancer over backends using the named
// algorithm. Backends are constructed by the caller (the origin pool,
// from a DNS resolution) rather than from static configuration, since a
// forward proxy has no fixed backend list to read at startup
func NewLoadBalancer(algorithm string, backends []Backend) (LoadBalancer, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("no backends available")
	}

	switch LoadBalancerType(strings.ToLower(algorithm)) {
	case RoundRobin:
		return NewRoundRobinBalancer(backends), nil
	case LeastConnections:
		return NewLeastConnectionsBalancer(backends), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobinBalancer(backends), nil
	default:
		return nil, fmt.Errorf("unsupported load balancing algorithm: %s", algorithm)
	}
}

// GetSupportedAlgorithms returns list of supported load balancing algorithms
// Used for configuration validation and documentation
func GetSupportedAlgorithms() []string {
	return []string{
		string(RoundRobin),
		string(LeastConnections),
		string(WeightedRoundRobin),
	}
}
