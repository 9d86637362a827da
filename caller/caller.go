// Package caller performs run-time calls to other services through the
// router.
//
// A run-time call ships the caller's finalized transport to the router,
// which routes it to the target service and returns the callee's reply.
// The caller decodes the return value and the callee's transport section so
// the engine can union-merge it back into the live transport.
package caller

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mesh-sdk/balance"
	"mesh-sdk/codec"
	"mesh-sdk/protocol"
	"mesh-sdk/registry"
	"mesh-sdk/transport"
	"mesh-sdk/value"
)

// RuntimeCallCommand is the command name for run-time calls.
const RuntimeCallCommand = "runtime-call"

// DefaultPoolSize is the per-address connection pool size.
const DefaultPoolSize = 4

// Router issues run-time calls over pooled TCP connections to one of the
// configured router endpoints. It implements the api.Caller capability.
type Router struct {
	instances func() ([]registry.Instance, error)
	balancer  balance.Balancer
	pools     map[string]*Pool
	mu        sync.Mutex
	poolSize  int
	logger    zerolog.Logger
}

// NewRouter creates a caller for a static list of router addresses.
func NewRouter(addrs []string, bal balance.Balancer, logger zerolog.Logger) *Router {
	instances := make([]registry.Instance, len(addrs))
	for i, addr := range addrs {
		instances[i] = registry.Instance{Addr: addr}
	}
	return &Router{
		instances: func() ([]registry.Instance, error) { return instances, nil },
		balancer:  bal,
		pools:     make(map[string]*Pool),
		poolSize:  DefaultPoolSize,
		logger:    logger,
	}
}

// NewDiscoveringRouter creates a caller that discovers router endpoints
// from a registry under the given service name.
func NewDiscoveringRouter(reg registry.Registry, routerService string, bal balance.Balancer, logger zerolog.Logger) *Router {
	return &Router{
		instances: func() ([]registry.Instance, error) { return reg.Discover(routerService, "") },
		balancer:  bal,
		pools:     make(map[string]*Pool),
		poolSize:  DefaultPoolSize,
		logger:    logger,
	}
}

func (r *Router) pool(addr string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[addr]
	if !ok {
		p = NewPool(addr, r.poolSize, func() (net.Conn, error) {
			return net.Dial("tcp", addr)
		})
		r.pools[addr] = p
	}
	return p
}

// Call sends a run-time call command and blocks until the router replies or
// the timeout expires.
func (r *Router) Call(
	ctx context.Context,
	caller transport.Hop,
	callee transport.Hop,
	params []value.Param,
	tr *transport.TransportData,
	timeout time.Duration,
) (value.Value, *transport.TransportData, error) {
	instances, err := r.instances()
	if err != nil {
		return value.Null(), nil, fmt.Errorf("router discovery failed: %w", err)
	}
	instance, err := r.balancer.Pick(instances)
	if err != nil {
		return value.Null(), nil, err
	}

	cmd := &codec.CommandPayload{
		Command: codec.Command{
			Name: RuntimeCallCommand,
			Args: &codec.CommandArgs{
				Transport: tr,
				Callee:    []string{callee.Service, callee.Version, callee.Action},
				Timeout:   timeout.Milliseconds(),
			},
		},
		Meta: codec.CommandMeta{Scope: "service"},
	}
	for _, p := range params {
		cmd.Command.Args.Params = append(cmd.Command.Args.Params, p.ToData())
	}

	frames, err := codec.EncodeRequest(RuntimeCallCommand, cmd)
	if err != nil {
		return value.Null(), nil, err
	}

	reply, err := r.exchange(ctx, instance.Addr, frames, timeout)
	if err != nil {
		return value.Null(), nil, err
	}

	if reply.Error != nil {
		return value.Null(), nil, fmt.Errorf("call to %s failed: %s", callee, reply.Error.Message)
	}
	if reply.Reply == nil {
		return value.Null(), nil, fmt.Errorf("call to %s returned an empty reply", callee)
	}

	result := reply.Reply.Result
	if result.Error != nil {
		// The callee replied but recorded a terminal error. Its transport
		// still merges so no hop data is lost.
		return value.Null(), result.Transport, fmt.Errorf("call to %s failed: %s", callee, result.Error.Message)
	}
	return value.Of(result.Return), result.Transport, nil
}

// exchange performs one framed request/reply round trip on a pooled
// connection.
func (r *Router) exchange(ctx context.Context, addr string, frames [][]byte, timeout time.Duration) (*codec.ReplyPayload, error) {
	conn, err := r.pool(addr).Get()
	if err != nil {
		return nil, err
	}
	defer r.pool(addr).Put(conn)

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.MarkUnusable()
		return nil, err
	}

	if err := protocol.WriteFrames(conn, frames); err != nil {
		conn.MarkUnusable()
		return nil, fmt.Errorf("failed to send call: %w", err)
	}

	replyFrames, err := protocol.ReadFrames(conn)
	if err != nil {
		conn.MarkUnusable()
		return nil, fmt.Errorf("failed to read call reply: %w", err)
	}

	_, reply, err := codec.DecodeReply(replyFrames)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Close shuts down every connection pool.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pools {
		p.Close()
	}
	return nil
}
