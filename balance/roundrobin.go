package balance

import (
	"sync/atomic"

	"mesh-sdk/registry"
)

// RoundRobin cycles through instances in order.
type RoundRobin struct {
	next atomic.Uint64
}

// NewRoundRobin creates a round-robin balancer.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Pick returns the next instance in rotation.
func (b *RoundRobin) Pick(instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, ErrNoInstances
	}
	n := b.next.Add(1) - 1
	return instances[n%uint64(len(instances))], nil
}
