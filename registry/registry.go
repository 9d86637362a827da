// Package registry provides worker announcement and discovery.
//
// Workers announce their (service, version, address) to a shared registry
// when they start and withdraw on shutdown; callers discover worker
// addresses for a service, optionally filtered by a version constraint.
package registry

// Instance is one announced worker endpoint for a service version.
type Instance struct {
	Addr    string `json:"addr"`
	Version string `json:"version"`
	Weight  int    `json:"weight,omitempty"`
}

// Registry abstracts the discovery backend.
type Registry interface {
	Register(service string, instance Instance, ttl int64) error
	Deregister(service string, instance Instance) error
	// Discover returns the announced instances for a service whose version
	// satisfies the constraint. An empty constraint matches every version.
	Discover(service, constraint string) ([]Instance, error)
	Watch(service string) <-chan []Instance
}
