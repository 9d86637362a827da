package channel

import "sync"

// Pipe is an in-memory channel pair. NewPipe returns two connected ends:
// frames sent on one end are received on the other. Used by tests to stand
// in for the router without any networking.
type Pipe struct {
	in     chan [][]byte
	out    chan [][]byte
	done   chan struct{}
	closed *sync.Once
}

// NewPipe creates a connected channel pair.
func NewPipe() (*Pipe, *Pipe) {
	a := make(chan [][]byte, 16)
	b := make(chan [][]byte, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	left := &Pipe{in: a, out: b, done: done, closed: once}
	right := &Pipe{in: b, out: a, done: done, closed: once}
	return left, right
}

// Recv blocks until a message is available or the pipe is closed.
func (p *Pipe) Recv() ([][]byte, error) {
	select {
	case frames := <-p.in:
		return frames, nil
	case <-p.done:
		// Drain messages already in flight before reporting closed
		select {
		case frames := <-p.in:
			return frames, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Send delivers a message to the other end.
func (p *Pipe) Send(frames [][]byte) error {
	select {
	case p.out <- frames:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Close closes both ends of the pipe.
func (p *Pipe) Close() error {
	p.closed.Do(func() { close(p.done) })
	return nil
}
