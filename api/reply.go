package api

import (
	"mesh-sdk/codec"
	"mesh-sdk/transport"
)

// Reply is the encode-ready record for the single outbound message produced
// per inbound message. The runner creates exactly one Reply per message,
// populates it through the dispatch pipeline, serializes it and discards it.
type Reply struct {
	name      string
	transport *transport.Transport
	response  *Response
}

// NewReply creates the reply for one processed message.
func NewReply(name string, tr *transport.Transport, resp *Response) *Reply {
	return &Reply{name: name, transport: tr, response: resp}
}

// Transport returns the finalized call-chain record carried by the reply.
func (r *Reply) Transport() *transport.Transport { return r.transport }

// Response returns the response produced by the dispatch pipeline.
func (r *Reply) Response() *Response { return r.response }

// Flags computes the reply meta flags from the reply contents, so the
// router can see at a glance whether the reply registered calls, files or
// transactions, or carries a download body, without deserializing the
// payload.
func (r *Reply) Flags() codec.Flags {
	flags := codec.FlagNone
	tr := r.transport
	if len(tr.Calls()) > 0 {
		flags |= codec.FlagServiceCall
	}
	if tr.HasFiles() {
		flags |= codec.FlagFiles
	}
	if tr.HasTransactions() {
		flags |= codec.FlagTransactions
	}
	if r.response != nil && len(r.response.Body()) > 0 {
		flags |= codec.FlagDownload
	}
	return flags
}

// Payload builds the serializable reply payload.
func (r *Reply) Payload() *codec.ReplyPayload {
	result := codec.Result{
		Transport: r.transport.Finalize(),
	}
	if r.response != nil {
		if v, ok := r.response.Return(); ok {
			result.Return = v.Raw()
		}
		result.Response = r.response.Data()
		result.Error = r.response.Err()
	}
	return &codec.ReplyPayload{
		Reply: &codec.Reply{Name: r.name, Result: result},
	}
}
