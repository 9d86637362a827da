package runner

import (
	"fmt"
	"time"

	"mesh-sdk/transport"
)

// Wire-level error codes recorded in transport error ledger entries, shared
// with the router and the SDKs in other languages.
const (
	CodeProtocol   = 1
	CodeVersion    = 2
	CodeCallLoop   = 3
	CodeType       = 4
	CodeTimeout    = 5
	CodeUser       = 6
	CodeMiddleware = 7
)

// UserError wraps an uncaught failure from a user callback. It is always
// recoverable: the failure is recorded against the current hop and a normal
// reply is still produced.
type UserError struct {
	Hop   transport.Hop
	Cause error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("callback error in %s: %v", e.Hop, e.Cause)
}

func (e *UserError) Unwrap() error { return e.Cause }

// TimeoutError reports a callback that exceeded the per-message deadline.
type TimeoutError struct {
	Hop      transport.Hop
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %dms", e.Deadline.Milliseconds())
}

// MiddlewareError reports an infrastructure-level middleware fault. It is
// fatal for the current message: masking it would let a malformed response
// reach the router.
type MiddlewareError struct {
	Cause any
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware failure: %v", e.Cause)
}
