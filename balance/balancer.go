// Package balance selects which router endpoint a run-time call goes to
// when more than one is configured or discovered.
package balance

import (
	"errors"

	"mesh-sdk/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("no instances available")

// Balancer picks one instance from a candidate list.
type Balancer interface {
	Pick(instances []registry.Instance) (registry.Instance, error)
}
