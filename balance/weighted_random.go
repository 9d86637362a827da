package balance

import (
	"math/rand"

	"mesh-sdk/registry"
)

// WeightedRandom picks instances randomly in proportion to their weight.
// Instances without a weight count as weight 1.
type WeightedRandom struct{}

// NewWeightedRandom creates a weighted random balancer.
func NewWeightedRandom() *WeightedRandom {
	return &WeightedRandom{}
}

// Pick returns a random instance biased by weight.
func (b *WeightedRandom) Pick(instances []registry.Instance) (registry.Instance, error) {
	if len(instances) == 0 {
		return registry.Instance{}, ErrNoInstances
	}

	total := 0
	for _, inst := range instances {
		total += weightOf(inst)
	}

	n := rand.Intn(total)
	for _, inst := range instances {
		n -= weightOf(inst)
		if n < 0 {
			return inst, nil
		}
	}
	return instances[len(instances)-1], nil
}

func weightOf(inst registry.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
