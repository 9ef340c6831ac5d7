package discovery

import (
	"math/rand/v2"
	"sync"
)

// LoadBalancingStrategy defines how ResolveOne selects an instance.
type LoadBalancingStrategy string

const (
	StrategyRandom     LoadBalancingStrategy = "random"
	StrategyRoundRobin LoadBalancingStrategy = "round_robin"
	StrategyWeighted   LoadBalancingStrategy = "weighted"
)

// Shorthand aliases for load balancing strategies.
const (
	Random     = StrategyRandom
	RoundRobin = StrategyRoundRobin
	Weighted   = StrategyWeighted
)

// selector keeps the per-service round-robin cursors.
type selector struct {
	mu      sync.Mutex
	rrIndex map[string]int
}

func newSelector() *selector {
	return &selector{rrIndex: make(map[string]int)}
}

// pick returns one instance; instances must be non-empty.
func (s *selector) pick(service string, strategy LoadBalancingStrategy, instances []ServiceInstance) ServiceInstance {
	switch strategy {
	case StrategyRoundRobin:
		s.mu.Lock()
		idx := s.rrIndex[service]
		s.rrIndex[service] = (idx + 1) % len(instances)
		s.mu.Unlock()
		return instances[idx%len(instances)]

	case StrategyWeighted:
		return selectWeighted(instances)

	default:
		return instances[rand.IntN(len(instances))]
	}
}

func selectWeighted(instances []ServiceInstance) ServiceInstance {
	total := 0
	for _, inst := range instances {
		total += inst.Weight()
	}
	r := rand.IntN(total)
	for _, inst := range instances {
		r -= inst.Weight()
		if r < 0 {
			return inst
		}
	}
	return instances[0]
}
