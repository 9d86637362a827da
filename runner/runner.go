// Package runner implements the worker message loop: it receives multipart
// messages from a channel, drives each through decode, middleware and the
// user callback, and sends back exactly one reply per message.
//
// Messages are processed one at a time in arrival order. Replies leave in
// the same order, so state shared between callbacks needs no locking.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"mesh-sdk/api"
	"mesh-sdk/channel"
	"mesh-sdk/codec"
	"mesh-sdk/config"
	"mesh-sdk/middleware"
	"mesh-sdk/registry"
	"mesh-sdk/transport"
)

// Callback handles one action invocation. Returning an error records it
// against the current hop; the reply is still produced.
type Callback func(a *api.Action) error

// state tracks where a message is in its processing lifecycle. Transitions
// are logged at trace level; every path ends in stateReplySent or
// stateError, after which the loop is idle again.
type state int

const (
	stateIdle state = iota
	stateReceived
	stateDecoded
	statePreMiddleware
	stateDispatching
	statePostMiddleware
	stateReplySent
	stateError
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateReceived:
		return "received"
	case stateDecoded:
		return "decoded"
	case statePreMiddleware:
		return "pre-middleware"
	case stateDispatching:
		return "dispatching"
	case statePostMiddleware:
		return "post-middleware"
	case stateReplySent:
		return "reply-sent"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// Runner is the engine for one worker process.
//
// Register callbacks and middleware before calling Run: the handler chain is
// built once when the loop starts and is immutable afterwards.
type Runner struct {
	name    string
	version string

	timeout  time.Duration
	maxDepth int

	callbacks   map[string]Callback
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	caller api.Caller
	logger zerolog.Logger

	registry      registry.Registry
	advertiseAddr string
	registerTTL   int64

	ch       channel.Channel
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// New creates a runner from the worker configuration.
func New(cfg *config.Config, logger zerolog.Logger) *Runner {
	ttl := cfg.RegisterTTL
	if ttl <= 0 {
		ttl = 10
	}
	return &Runner{
		name:        cfg.Name,
		version:     cfg.Version,
		timeout:     cfg.Timeout,
		maxDepth:    cfg.MaxCallDepth,
		registerTTL: ttl,
		callbacks:   make(map[string]Callback),
		logger:      logger,
	}
}

// Register binds a callback to an action name. Registering twice for the
// same action replaces the previous callback.
func (r *Runner) Register(action string, cb Callback) {
	r.callbacks[action] = cb
}

// Use appends a middleware to the chain. Middleware run in registration
// order before dispatch and in reverse order after.
func (r *Runner) Use(mw middleware.Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// SetCaller configures the run-time call capability injected into actions.
func (r *Runner) SetCaller(c api.Caller) {
	r.caller = c
}

// SetRegistry configures service announcement: when set, Run registers the
// component under addr and Shutdown deregisters it.
func (r *Runner) SetRegistry(reg registry.Registry, addr string) {
	r.registry = reg
	r.advertiseAddr = addr
}

// Run processes messages from the channel until it is closed. Each message
// produces exactly one reply; a message that cannot even be decoded gets a
// bare error reply. Run returns nil on graceful shutdown.
func (r *Runner) Run(ch channel.Channel) error {
	r.ch = ch
	r.handler = middleware.Chain(r.middlewares...)(r.dispatch)

	if r.registry != nil {
		instance := registry.Instance{Addr: r.advertiseAddr, Version: r.version}
		if err := r.registry.Register(r.name, instance, r.registerTTL); err != nil {
			return fmt.Errorf("failed to announce %s: %w", r.name, err)
		}
		r.logger.Info().Str("service", r.name).Str("addr", r.advertiseAddr).Msg("service announced")
	}

	r.logger.Info().
		Str("service", r.name).
		Str("version", r.version).
		Int("actions", len(r.callbacks)).
		Msg("worker loop started")

	for {
		frames, err := ch.Recv()
		if err != nil {
			if r.shutdown.Load() || errors.Is(err, channel.ErrClosed) {
				r.logger.Info().Msg("worker loop stopped")
				return nil
			}
			return fmt.Errorf("failed to receive message: %w", err)
		}

		r.wg.Add(1)
		reply := r.process(frames)
		if err := ch.Send(reply); err != nil {
			r.wg.Done()
			if r.shutdown.Load() || errors.Is(err, channel.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to send reply: %w", err)
		}
		r.wg.Done()
	}
}

// Shutdown stops the worker loop gracefully: the component is withdrawn
// from the registry, the channel is closed so Recv unblocks, and in-flight
// message processing is awaited up to the timeout.
func (r *Runner) Shutdown(timeout time.Duration) error {
	if !r.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	if r.registry != nil {
		instance := registry.Instance{Addr: r.advertiseAddr, Version: r.version}
		if err := r.registry.Deregister(r.name, instance); err != nil {
			r.logger.Warn().Err(err).Msg("failed to withdraw service")
		}
	}
	if r.ch != nil {
		r.ch.Close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("graceful shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}

// process drives one message through the lifecycle and always returns reply
// frames, falling back to a bare error reply when no transport exists yet.
func (r *Runner) process(frames [][]byte) [][]byte {
	st := stateReceived
	r.logger.Trace().Stringer("state", st).Int("frames", len(frames)).Msg("message received")

	action, cmd, err := codec.DecodeRequest(frames)
	if err != nil {
		st = stateError
		code := CodeProtocol
		var verr *codec.VersionError
		if errors.As(err, &verr) {
			code = CodeVersion
		}
		r.logger.Error().Stringer("state", st).Err(err).Msg("undecodable message")
		return codec.EncodeErrorReply(err.Error(), code, "")
	}

	var data *transport.TransportData
	if cmd.Command.Args != nil {
		data = cmd.Command.Args.Transport
	}
	tr := transport.Hydrate(data)
	tr.SetMaxCallDepth(r.maxDepth)
	req := api.NewRequest(action, cmd, tr)

	st = stateDecoded
	r.logger.Debug().
		Stringer("state", st).
		Str("action", action).
		Str("rid", req.ID()).
		Msg("message decoded")

	if _, ok := r.callbacks[action]; !ok {
		st = stateError
		msg := fmt.Sprintf("invalid action for component %q (%s): %q", r.name, r.version, action)
		r.logger.Error().Stringer("state", st).Str("action", action).Msg("unknown action")
		return codec.EncodeErrorReply(msg, CodeUser, "")
	}

	st = statePreMiddleware
	r.logger.Trace().Stringer("state", st).Str("rid", req.ID()).Msg("entering middleware chain")
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	resp, mwErr := r.invoke(ctx, req)
	if mwErr != nil {
		// A middleware fault is fatal for the message: the pipeline state is
		// unknown, so the transport must not be trusted for the reply.
		st = stateError
		r.logger.Error().Stringer("state", st).Err(mwErr).Str("rid", req.ID()).Msg("middleware failure")
		return codec.EncodeErrorReply(mwErr.Error(), CodeMiddleware, "")
	}
	st = statePostMiddleware
	r.logger.Trace().Stringer("state", st).Str("rid", req.ID()).Msg("middleware chain done")

	reply := api.NewReply(action, req.Transport(), resp)
	out, err := codec.EncodeReply(reply.Flags(), reply.Payload())
	if err != nil {
		st = stateError
		r.logger.Error().Stringer("state", st).Err(err).Str("rid", req.ID()).Msg("reply serialization failed")
		return codec.EncodeErrorReply(err.Error(), CodeProtocol, "")
	}

	st = stateReplySent
	r.logger.Trace().Stringer("state", st).Str("rid", req.ID()).Msg("reply ready")
	return out
}

// invoke runs the middleware chain around dispatch. Panics escaping the
// chain itself surface as a MiddlewareError; callback panics never reach
// here because dispatch contains them.
func (r *Runner) invoke(ctx context.Context, req *api.Request) (resp *api.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			resp = nil
			err = &MiddlewareError{Cause: p}
		}
	}()

	resp = r.handler(ctx, req)
	if resp == nil {
		resp = api.NewResponse()
	}
	return resp, nil
}

type callbackResult struct {
	err      error
	panicked bool
	panicVal any
}

// dispatch is the innermost handler: it appends the current hop to the call
// stack and runs the user callback under the per-message deadline.
func (r *Runner) dispatch(ctx context.Context, req *api.Request) *api.Response {
	resp := api.NewResponse()
	tr := req.Transport()
	hop := transport.Hop{Service: r.name, Version: r.version, Action: req.ActionName()}

	if err := tr.RegisterCall(r.name, r.version, req.ActionName()); err != nil {
		// Loop bound exceeded: recoverable, the chain record survives in the
		// reply so the caller can see where the cycle closed.
		tr.AddError(hop, err.Error(), CodeCallLoop, codec.DefaultErrorStatus)
		resp.SetError(err.Error(), CodeCallLoop, codec.DefaultErrorStatus)
		r.logger.Warn().Err(err).Str("rid", req.ID()).Msg("call loop detected")
		return resp
	}

	action := api.NewAction(ctx, req, resp, hop, r.caller, r.timeout)
	cb := r.callbacks[req.ActionName()]
	r.logger.Trace().Stringer("state", stateDispatching).Str("rid", req.ID()).Msg("invoking callback")

	done := make(chan callbackResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callbackResult{panicked: true, panicVal: p}
			}
		}()
		done <- callbackResult{err: cb(action)}
	}()

	select {
	case result := <-done:
		switch {
		case result.panicked:
			uerr := &UserError{Hop: hop, Cause: fmt.Errorf("%v", result.panicVal)}
			tr.AddError(hop, uerr.Error(), CodeUser, codec.DefaultErrorStatus)
			resp.SetError(uerr.Error(), CodeUser, codec.DefaultErrorStatus)
			r.logger.Error().Err(uerr).Str("rid", req.ID()).Msg("callback panicked")
		case result.err != nil:
			uerr := &UserError{Hop: hop, Cause: result.err}
			tr.AddError(hop, uerr.Error(), CodeUser, codec.DefaultErrorStatus)
			resp.SetError(uerr.Error(), CodeUser, codec.DefaultErrorStatus)
			r.logger.Warn().Err(uerr).Str("rid", req.ID()).Msg("callback failed")
		}
	case <-ctx.Done():
		// The callback goroutine may still be running, so the action is
		// abandoned and the reply built from a detached snapshot it can no
		// longer reach. Post-deadline effects are discarded.
		snap := transport.Hydrate(action.Abandon())
		snap.SetMaxCallDepth(r.maxDepth)
		req.SetTransport(snap)
		terr := &TimeoutError{Hop: hop, Deadline: r.timeout}
		snap.AddError(hop, terr.Error(), CodeTimeout, codec.DefaultErrorStatus)
		resp = api.NewResponse()
		resp.SetError(terr.Error(), CodeTimeout, codec.DefaultErrorStatus)
		r.logger.Error().Err(terr).Str("rid", req.ID()).Msg("callback timed out")
	}
	return resp
}
