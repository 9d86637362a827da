// Package channel provides the transport channels a worker uses to exchange
// multipart messages with the router.
//
// The runner only depends on the Channel interface: a blocking Recv for the
// next inbound message and a Send for the outbound reply. Implementations
// cover a raw TCP stream using the wire framing, a NATS subject, and an
// in-memory pipe used by tests.
package channel

import "errors"

// ErrClosed is returned by Recv and Send after the channel is closed.
var ErrClosed = errors.New("channel is closed")

// Channel is one inbound message stream from the router.
//
// A channel is used by a single worker loop: Recv blocks until the next
// message arrives and Send emits the reply for it. Implementations do not
// need to support concurrent Recv calls.
type Channel interface {
	Recv() ([][]byte, error)
	Send(frames [][]byte) error
	Close() error
}
