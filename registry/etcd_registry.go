// etcd-based implementation of the Registry interface.
//
// Workers are stored under:
//
//	Key:   /mesh/{service}/{version}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the worker crashes, the lease
// expires and the entry is removed automatically, preventing ghost
// instances.
package registry

import (
	"context"
	"encoding/json"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/mesh/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func instanceKey(service string, instance Instance) string {
	return keyPrefix + service + "/" + instance.Version + "/" + instance.Addr
}

// Register announces a worker instance with a TTL lease and starts
// background lease renewal.
func (r *EtcdRegistry) Register(service string, instance Instance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, instanceKey(service, instance), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses so the channel never fills up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister withdraws a worker instance. Called during graceful shutdown
// before the channel stops accepting.
func (r *EtcdRegistry) Deregister(service string, instance Instance) error {
	_, err := r.client.Delete(context.TODO(), instanceKey(service, instance))
	return err
}

// Discover returns the announced instances for a service whose version
// satisfies the constraint.
func (r *EtcdRegistry) Discover(service, constraint string) ([]Instance, error) {
	ctx := context.TODO()
	prefix := keyPrefix + service + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0)
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		if instance.Version == "" {
			// Fall back to the version segment of the key
			parts := strings.Split(strings.TrimPrefix(string(kv.Key), prefix), "/")
			if len(parts) > 0 {
				instance.Version = parts[0]
			}
		}
		if MatchVersion(instance.Version, constraint) {
			instances = append(instances, instance)
		}
	}
	return instances, nil
}

// Watch monitors a service prefix and emits updated instance lists whenever
// registrations change.
func (r *EtcdRegistry) Watch(service string) <-chan []Instance {
	ctx := context.TODO()
	ch := make(chan []Instance, 1)
	prefix := keyPrefix + service + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full instance list
			instances, _ := r.Discover(service, "")
			ch <- instances
		}
	}()

	return ch
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
