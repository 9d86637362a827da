// Connection pooling for router endpoints.
//
// Run-time calls use one connection exclusively for the duration of a
// request/reply exchange, so the pool hands out connections borrow/return
// style. A buffered channel holds the idle connections: it is a natural
// FIFO queue that is goroutine-safe and blocks when empty.
package caller

import (
	"errors"
	"net"
	"sync"
)

var errPoolFull = errors.New("connection pool full")

// Pool manages reusable connections to a single router address.
type Pool struct {
	mu       sync.Mutex
	conns    chan *PoolConn
	addr     string
	maxConns int
	curConns int
	factory  func() (net.Conn, error)
}

// PoolConn wraps a net.Conn with pool metadata.
type PoolConn struct {
	net.Conn
	unusable bool
}

// MarkUnusable flags the connection so it is discarded instead of reused.
func (c *PoolConn) MarkUnusable() { c.unusable = true }

// NewPool creates a connection pool with the given max size. Connections
// are created lazily.
func NewPool(addr string, maxConns int, factory func() (net.Conn, error)) *Pool {
	return &Pool{
		conns:    make(chan *PoolConn, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get retrieves an idle connection, creating one when the pool is below
// its limit, and blocking when the pool is at capacity with nothing idle.
// Losing a creation race to a concurrent caller falls back to waiting for
// an idle connection, never to an error.
func (p *Pool) Get() (*PoolConn, error) {
	for {
		select {
		case conn := <-p.conns:
			if conn.unusable {
				p.discard(conn)
				continue
			}
			return conn, nil
		default:
		}

		conn, err := p.createNew()
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, errPoolFull) {
			return nil, err
		}

		conn = <-p.conns
		if conn.unusable {
			p.discard(conn)
			continue
		}
		return conn, nil
	}
}

// Put returns a connection to the pool. Unusable connections are closed
// and their slot freed.
func (p *Pool) Put(conn *PoolConn) {
	if conn.unusable {
		p.discard(conn)
		return
	}
	p.conns <- conn
}

// discard closes a dead connection and frees its pool slot.
func (p *Pool) discard(conn *PoolConn) {
	conn.Close()
	p.mu.Lock()
	p.curConns--
	p.mu.Unlock()
}

// Close shuts down the pool and closes all idle connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.conns)
	for conn := range p.conns {
		conn.Close()
		p.curConns--
	}
	return nil
}

func (p *Pool) createNew() (*PoolConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, errPoolFull
	}

	netConn, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return &PoolConn{Conn: netConn}, nil
}
