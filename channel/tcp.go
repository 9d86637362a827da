package channel

import (
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"mesh-sdk/protocol"
)

// Stream is a channel over any byte stream, using the multipart wire
// framing. It is the building block for the TCP channel and is handy for
// tests over net.Pipe.
type Stream struct {
	rw      io.ReadWriteCloser
	writeMu sync.Mutex
}

// NewStream wraps a byte stream in a channel.
func NewStream(rw io.ReadWriteCloser) *Stream {
	return &Stream{rw: rw}
}

// Recv reads one complete multipart message from the stream.
func (s *Stream) Recv() ([][]byte, error) {
	return protocol.ReadFrames(s.rw)
}

// Send writes one complete multipart message to the stream. The write lock
// keeps messages from interleaving when replies are written concurrently.
func (s *Stream) Send(frames [][]byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteFrames(s.rw, frames)
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	return s.rw.Close()
}

// TCP is a channel that listens for router connections on a TCP address.
//
// One connection is serviced at a time, matching the strict
// request-then-reply discipline of a worker loop. When the router drops the
// connection the channel goes back to accepting.
type TCP struct {
	listener net.Listener
	stream   *Stream
	logger   zerolog.Logger
}

// ListenTCP opens a TCP channel on the given address.
func ListenTCP(address string, logger zerolog.Logger) (*TCP, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("address", address).Msg("channel listening")
	return &TCP{listener: listener, logger: logger}, nil
}

// Addr returns the address the channel is listening on.
func (c *TCP) Addr() string {
	return c.listener.Addr().String()
}

// Recv blocks until a complete message arrives from the router. A broken or
// non-protocol connection is dropped and the channel accepts the next one;
// only a closed listener surfaces as an error.
func (c *TCP) Recv() ([][]byte, error) {
	for {
		if c.stream == nil {
			conn, err := c.listener.Accept()
			if err != nil {
				return nil, err
			}
			c.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("router connected")
			c.stream = NewStream(conn)
		}

		frames, err := c.stream.Recv()
		if err != nil {
			c.logger.Debug().Err(err).Msg("router connection dropped")
			c.stream.Close()
			c.stream = nil
			continue
		}
		return frames, nil
	}
}

// Send writes the reply to the current router connection.
func (c *TCP) Send(frames [][]byte) error {
	if c.stream == nil {
		return ErrClosed
	}
	return c.stream.Send(frames)
}

// Close shuts down the listener and any active connection.
func (c *TCP) Close() error {
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	return c.listener.Close()
}
