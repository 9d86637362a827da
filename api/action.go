package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mesh-sdk/transport"
	"mesh-sdk/value"
)

// Action is the per-invocation context handed to a user callback.
//
// It borrows the request and transport for the duration of one dispatch:
// parameter access, transport mutation and calls to other services all go
// through it. A fresh Action is created for every callback invocation.
//
// Transport and response mutation goes through a latch: when the dispatch
// deadline expires the runner abandons the action, and every later mutation
// is discarded. A callback that outlives its deadline can therefore no
// longer touch the transport the reply serializes.
type Action struct {
	ctx      context.Context
	req      *Request
	resp     *Response
	hop      transport.Hop
	caller   Caller
	deadline time.Duration

	mu        sync.Mutex
	abandoned bool
}

// NewAction creates the action context for one callback invocation.
func NewAction(ctx context.Context, req *Request, resp *Response, hop transport.Hop, caller Caller, deadline time.Duration) *Action {
	return &Action{ctx: ctx, req: req, resp: resp, hop: hop, caller: caller, deadline: deadline}
}

// Context returns the dispatch context. It is cancelled when the
// per-message deadline expires.
func (a *Action) Context() context.Context { return a.ctx }

// ServiceName returns the name of the service running the action.
func (a *Action) ServiceName() string { return a.hop.Service }

// ServiceVersion returns the version of the service running the action.
func (a *Action) ServiceVersion() string { return a.hop.Version }

// Name returns the name of the action being executed.
func (a *Action) Name() string { return a.hop.Action }

// ID returns the unique request identifier.
func (a *Action) ID() string { return a.req.ID() }

// Transport returns the live call-chain record. Callbacks should mutate the
// transport through the action methods, which stop recording once the
// dispatch deadline expires.
func (a *Action) Transport() *transport.Transport { return a.req.Transport() }

// HasParam reports whether a parameter was provided in the call.
func (a *Action) HasParam(name string) bool { return a.req.HasParam(name) }

// Param returns a parameter by name.
func (a *Action) Param(name string) value.Param { return a.req.Param(name) }

// Params returns all provided parameters.
func (a *Action) Params() []value.Param { return a.req.Params() }

// Response returns the outbound response being populated.
func (a *Action) Response() *Response { return a.resp }

// Abandon marks the action as expired and returns a snapshot of its
// transport taken while no callback mutation can be in flight. After
// Abandon returns, mutations through the action are discarded. The runner
// calls it when the dispatch deadline expires.
func (a *Action) Abandon() *transport.TransportData {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abandoned = true
	return a.req.Transport().Finalize()
}

// SetReturn records the action's return value in the response and in the
// transport return-value ledger for this hop.
func (a *Action) SetReturn(v value.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abandoned {
		return
	}
	a.resp.SetReturn(v)
	a.req.Transport().SetReturn(a.hop, v)
}

// Error records an error against the current hop in the transport error
// ledger and marks the response as failed. Message processing continues and
// a normal reply is still produced.
func (a *Action) Error(message string, code int, status string) {
	if status == "" {
		status = "500 Internal Server Error"
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abandoned {
		return
	}
	a.req.Transport().AddError(a.hop, message, code, status)
	a.resp.SetError(message, code, status)
}

// Log records a structured log entry in the transport.
func (a *Action) Log(entry any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abandoned {
		return
	}
	a.req.Transport().Log(entry)
}

// RegisterFile registers a file reference in the transport. Only the handle
// metadata travels with the call chain.
func (a *Action) RegisterFile(f transport.File) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abandoned {
		return
	}
	a.req.Transport().RegisterFile(f)
}

// Commit registers a transaction to run when the whole call chain succeeds.
func (a *Action) Commit(target string, params []value.Param) error {
	return a.addTransaction(transport.TransactionCommit, target, params)
}

// Rollback registers a transaction to run when the call chain fails.
func (a *Action) Rollback(target string, params []value.Param) error {
	return a.addTransaction(transport.TransactionRollback, target, params)
}

// Complete registers a transaction to run after the call chain completes,
// regardless of its outcome.
func (a *Action) Complete(target string, params []value.Param) error {
	return a.addTransaction(transport.TransactionComplete, target, params)
}

func (a *Action) addTransaction(txType, target string, params []value.Param) error {
	tx := transport.Transaction{
		Service: a.hop.Service,
		Version: a.hop.Version,
		Caller:  a.hop.Action,
		Target:  target,
	}
	for _, p := range params {
		tx.Params = append(tx.Params, p.ToData())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abandoned {
		return nil
	}
	return a.req.Transport().AddTransaction(txType, tx)
}

// DeferCall registers a call to another service to be made by the router
// after this action replies. The call is recorded in the transport calls
// ledger and checked against the loop depth bound; the callee's engine
// appends its own hop to the stack when the router delivers the call.
func (a *Action) DeferCall(service, version, action string, params []value.Param) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abandoned {
		return fmt.Errorf("execution deadline already expired")
	}

	tr := a.req.Transport()
	if err := tr.CheckCall(service, version, action); err != nil {
		return err
	}

	record := transport.CallRecord{
		Caller: a.hop,
		Callee: transport.Hop{Service: service, Version: version, Action: action},
	}
	for _, p := range params {
		record.Params = append(record.Params, p.ToData())
	}
	tr.AddCall(record)
	return nil
}

// Call performs a run-time call to another service through the router and
// blocks until it resolves. The callee's engine appends its own hop to the
// call stack, and the transport it returns is union-merged into the current
// transport. The merge happens even when the callee failed, so the
// error-ledger entries and logs it recorded are never lost.
func (a *Action) Call(service, version, action string, params []value.Param, timeout time.Duration) (value.Value, error) {
	if a.caller == nil {
		return value.Null(), fmt.Errorf("run-time calls are not configured for this component")
	}

	callee := transport.Hop{Service: service, Version: version, Action: action}
	if timeout <= 0 {
		timeout = a.deadline
	}

	a.mu.Lock()
	if a.abandoned {
		a.mu.Unlock()
		return value.Null(), fmt.Errorf("execution deadline already expired")
	}
	tr := a.req.Transport()
	if err := tr.CheckCall(service, version, action); err != nil {
		a.mu.Unlock()
		return value.Null(), err
	}
	outbound := tr.Finalize()
	a.mu.Unlock()

	// The lock is not held across the network exchange so an expiring
	// deadline can abandon the action while the call is in flight.
	start := time.Now()
	result, data, err := a.caller.Call(a.ctx, a.hop, callee, params, outbound, timeout)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abandoned {
		return value.Null(), fmt.Errorf("execution deadline already expired")
	}

	record := transport.CallRecord{
		Caller:   a.hop,
		Callee:   callee,
		Duration: time.Since(start).Milliseconds(),
		Timeout:  timeout.Milliseconds(),
	}
	for _, p := range params {
		record.Params = append(record.Params, p.ToData())
	}
	tr.AddCall(record)
	tr.MergeData(data)

	if err != nil {
		return value.Null(), err
	}

	tr.SetReturn(callee, result)
	return result, nil
}
