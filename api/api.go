// Package api exposes the typed views user callbacks work with: the inbound
// Request, the per-invocation Action, the outbound Response and the final
// Reply.
//
// The views are flat structs composed by reference. A Request owns the live
// transport and a payload view, an Action borrows both for the duration of
// one callback invocation. Callbacks and middleware receive mutable borrows
// and must not retain them beyond the call.
package api

import (
	"context"
	"time"

	"mesh-sdk/codec"
	"mesh-sdk/transport"
	"mesh-sdk/value"
)

// Caller performs run-time calls to other services through the router.
// The runner injects an implementation when one is configured.
type Caller interface {
	Call(
		ctx context.Context,
		caller transport.Hop,
		callee transport.Hop,
		params []value.Param,
		tr *transport.TransportData,
		timeout time.Duration,
	) (value.Value, *transport.TransportData, error)
}

// Request wraps a decoded inbound message and the live transport.
type Request struct {
	action    string
	command   *codec.CommandPayload
	transport *transport.Transport
	params    []value.Param
}

// NewRequest creates the request view over a decoded command payload.
func NewRequest(action string, cmd *codec.CommandPayload, tr *transport.Transport) *Request {
	req := &Request{action: action, command: cmd, transport: tr}
	if cmd != nil && cmd.Command.Args != nil {
		for _, data := range cmd.Command.Args.Params {
			req.params = append(req.params, value.ParamFromData(data))
		}
		if tr.ID() == "" {
			tr.SetID(cmd.Command.Args.RequestID)
		}
	}
	return req
}

// ActionName returns the name of the requested action.
func (r *Request) ActionName() string { return r.action }

// ID returns the unique request identifier.
func (r *Request) ID() string { return r.transport.ID() }

// Transport returns the live call-chain record.
func (r *Request) Transport() *transport.Transport { return r.transport }

// SetTransport replaces the live call-chain record. The runner uses this to
// detach a timed-out dispatch from the transport its abandoned callback
// still references.
func (r *Request) SetTransport(tr *transport.Transport) { r.transport = tr }

// Command returns the decoded command payload.
func (r *Request) Command() *codec.CommandPayload { return r.command }

// HasParam reports whether a parameter was provided in the call.
func (r *Request) HasParam(name string) bool {
	for _, p := range r.params {
		if p.Name() == name {
			return true
		}
	}
	return false
}

// Param returns a parameter by name. Absent parameters resolve to an empty
// param so value resolution never fails.
func (r *Request) Param(name string) value.Param {
	for _, p := range r.params {
		if p.Name() == name {
			return p
		}
	}
	return value.NewEmptyParam(name, value.KindUnknown)
}

// Params returns all provided parameters in payload order.
func (r *Request) Params() []value.Param {
	params := make([]value.Param, len(r.params))
	copy(params, r.params)
	return params
}

// SetParam adds or replaces a parameter. Pre-dispatch middleware use this
// to rewrite a request before it reaches the callback.
func (r *Request) SetParam(p value.Param) {
	for i := range r.params {
		if r.params[i].Name() == p.Name() {
			r.params[i] = p
			return
		}
	}
	r.params = append(r.params, p)
}

// Attribute returns a command attribute, or the default when absent.
func (r *Request) Attribute(name, def string) string {
	if r.command == nil || r.command.Command.Args == nil {
		return def
	}
	if v, ok := r.command.Command.Args.Attributes[name]; ok {
		return v
	}
	return def
}

// Response is the outbound payload a callback populates.
type Response struct {
	returnValue value.Value
	hasReturn   bool
	status      string
	headers     map[string][]string
	body        []byte
	params      []value.Param
	err         *codec.ErrorData
}

// NewResponse creates an empty response with the default HTTP-style status.
func NewResponse() *Response {
	return &Response{status: "200 OK"}
}

// SetReturn sets the return value of the response.
func (r *Response) SetReturn(v value.Value) {
	r.returnValue = v
	r.hasReturn = true
}

// Return returns the response return value.
func (r *Response) Return() (value.Value, bool) { return r.returnValue, r.hasReturn }

// SetStatus sets the HTTP-style status line.
func (r *Response) SetStatus(status string) { r.status = status }

// Status returns the HTTP-style status line.
func (r *Response) Status() string { return r.status }

// AddHeader appends a header value.
func (r *Response) AddHeader(name, val string) {
	if r.headers == nil {
		r.headers = make(map[string][]string)
	}
	r.headers[name] = append(r.headers[name], val)
}

// Header returns the first value for a header, or empty when absent.
func (r *Response) Header(name string) string {
	if values := r.headers[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// SetBody sets the raw response body.
func (r *Response) SetBody(body []byte) { r.body = body }

// Body returns the raw response body.
func (r *Response) Body() []byte { return r.body }

// SetParam adds an output parameter.
func (r *Response) SetParam(p value.Param) { r.params = append(r.params, p) }

// SetError marks the response as failed.
func (r *Response) SetError(message string, code int, status string) {
	r.err = codec.NewErrorData(message, code, status)
	if status != "" {
		r.status = status
	}
}

// Err returns the response error, or nil on success.
func (r *Response) Err() *codec.ErrorData { return r.err }

// Data converts the response to its wire form.
func (r *Response) Data() *codec.ResponseData {
	data := &codec.ResponseData{
		Status:  r.status,
		Headers: r.headers,
		Body:    r.body,
	}
	for _, p := range r.params {
		data.Params = append(data.Params, p.ToData())
	}
	return data
}
