// Package codec translates between the multipart wire message and in-memory
// payload data.
//
// The payload frame is a self-describing msgpack mapping. Integer and float
// type tags are preserved losslessly, strings are UTF-8 and binary blobs are
// opaque byte sequences distinct from strings. Encoding is deterministic:
// payload structures serialize with a fixed field order and map keys are
// sorted, so re-encoding a decoded message is bit-identical.
package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"mesh-sdk/protocol"
	"mesh-sdk/transport"
	"mesh-sdk/value"
)

// ProtocolVersion is the payload protocol version this engine speaks.
// Version negotiation fails closed: any other version is refused rather
// than parsed on a best-effort basis.
const ProtocolVersion = "1.0"

// Bare error payload defaults.
const (
	DefaultErrorMessage = "Unknown error"
	DefaultErrorStatus  = "500 Internal Server Error"
)

// ProtocolError reports malformed frames or an unparseable payload.
// It is fatal for the current message.
type ProtocolError struct {
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// VersionError reports an unsupported payload protocol version.
type VersionError struct {
	Version string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported protocol version %q, expected %q", e.Version, ProtocolVersion)
}

// Flags describe the reply contents so the router can inspect the meta
// frame without deserializing the payload.
type Flags byte

const (
	FlagNone         Flags = 0
	FlagServiceCall  Flags = 1 << 0
	FlagFiles        Flags = 1 << 1
	FlagTransactions Flags = 1 << 2
	FlagDownload     Flags = 1 << 3
)

// Has reports whether all given flags are set.
func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// CommandPayload is the inbound payload: a command for the worker to run.
type CommandPayload struct {
	Command Command     `msgpack:"c"`
	Meta    CommandMeta `msgpack:"m"`
}

// Command names the operation and carries its arguments.
type Command struct {
	Name string       `msgpack:"n"`
	Args *CommandArgs `msgpack:"a,omitempty"`
}

// CommandMeta identifies the scope of the component making the request.
type CommandMeta struct {
	Scope string `msgpack:"s"`
}

// CommandArgs are the arguments of an action call.
type CommandArgs struct {
	RequestID  string                   `msgpack:"i,omitempty"`
	Attributes map[string]string        `msgpack:"A,omitempty"`
	Params     []value.ParamData        `msgpack:"p,omitempty"`
	Transport  *transport.TransportData `msgpack:"T,omitempty"`
	// Callee is set for run-time calls: [service, version, action]
	Callee  []string `msgpack:"C,omitempty"`
	Timeout int64    `msgpack:"t,omitempty"` // milliseconds
}

// ReplyPayload is the outbound payload: either a command reply or a bare
// error when no transport is available (undecodable request).
type ReplyPayload struct {
	Reply *Reply     `msgpack:"r,omitempty"`
	Error *ErrorData `msgpack:"e,omitempty"`
}

// Reply is the result of a processed command.
type Reply struct {
	Name   string `msgpack:"n"`
	Result Result `msgpack:"R"`
}

// Result carries the finalized transport plus the response or error the
// dispatch pipeline produced.
type Result struct {
	Return    any                      `msgpack:"v,omitempty"`
	Transport *transport.TransportData `msgpack:"T,omitempty"`
	Response  *ResponseData            `msgpack:"r,omitempty"`
	Error     *ErrorData               `msgpack:"e,omitempty"`
}

// ResponseData is the outbound response payload a callback populated.
type ResponseData struct {
	Status  string              `msgpack:"s,omitempty"`
	Headers map[string][]string `msgpack:"h,omitempty"`
	Body    []byte              `msgpack:"b,omitempty"`
	Params  []value.ParamData   `msgpack:"p,omitempty"`
}

// ErrorData is a structured error in the payload.
type ErrorData struct {
	Message string `msgpack:"m"`
	Code    int    `msgpack:"c,omitempty"`
	Status  string `msgpack:"s,omitempty"`
}

// NewErrorData creates error data, filling in the defaults for empty fields.
func NewErrorData(message string, code int, status string) *ErrorData {
	if message == "" {
		message = DefaultErrorMessage
	}
	if status == "" {
		status = DefaultErrorStatus
	}
	return &ErrorData{Message: message, Code: code, Status: status}
}

// pack serializes a payload deterministically: struct fields keep their
// declaration order and map keys are sorted.
func pack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unpack(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// checkFrames validates the frame count and the protocol version frame.
func checkFrames(frames [][]byte) error {
	if len(frames) != protocol.FrameCount {
		return &ProtocolError{Message: fmt.Sprintf("expected %d frames, got %d", protocol.FrameCount, len(frames))}
	}
	if v := string(frames[protocol.FrameVersion]); v != ProtocolVersion {
		return &VersionError{Version: v}
	}
	return nil
}

// DecodeRequest decodes an inbound message into its action identifier and
// command payload.
func DecodeRequest(frames [][]byte) (string, *CommandPayload, error) {
	if err := checkFrames(frames); err != nil {
		return "", nil, err
	}

	var cmd CommandPayload
	if err := unpack(frames[protocol.FramePayload], &cmd); err != nil {
		return "", nil, &ProtocolError{Message: "payload is not a valid mapping", Cause: err}
	}
	return string(frames[protocol.FrameAction]), &cmd, nil
}

// EncodeRequest encodes a command for an action into wire frames.
func EncodeRequest(action string, cmd *CommandPayload) ([][]byte, error) {
	payload, err := pack(cmd)
	if err != nil {
		return nil, &ProtocolError{Message: "failed to serialize command payload", Cause: err}
	}
	return [][]byte{[]byte(ProtocolVersion), []byte(action), payload}, nil
}

// DecodeReply decodes an outbound message into its meta flags and reply
// payload.
func DecodeReply(frames [][]byte) (Flags, *ReplyPayload, error) {
	if err := checkFrames(frames); err != nil {
		return FlagNone, nil, err
	}

	var flags Flags
	if meta := frames[protocol.FrameAction]; len(meta) == 1 {
		flags = Flags(meta[0])
	}

	var reply ReplyPayload
	if err := unpack(frames[protocol.FramePayload], &reply); err != nil {
		return FlagNone, nil, &ProtocolError{Message: "payload is not a valid mapping", Cause: err}
	}
	return flags, &reply, nil
}

// EncodeReply encodes a reply payload into wire frames.
func EncodeReply(flags Flags, reply *ReplyPayload) ([][]byte, error) {
	payload, err := pack(reply)
	if err != nil {
		return nil, &ProtocolError{Message: "failed to serialize reply payload", Cause: err}
	}
	return [][]byte{[]byte(ProtocolVersion), {byte(flags)}, payload}, nil
}

// EncodeErrorReply encodes a bare error reply carrying no transport data.
// It is the best-effort reply for messages that failed before a transport
// could be hydrated, so it must not fail: a payload that cannot be
// serialized degrades to the default error.
func EncodeErrorReply(message string, code int, status string) [][]byte {
	payload, err := pack(&ReplyPayload{Error: NewErrorData(message, code, status)})
	if err != nil {
		payload, _ = pack(&ReplyPayload{Error: NewErrorData(DefaultErrorMessage, 0, DefaultErrorStatus)})
	}
	return [][]byte{[]byte(ProtocolVersion), {byte(FlagNone)}, payload}
}
