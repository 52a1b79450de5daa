package transport

import (
	"errors"
	"io"
	"sync"
)

// pipeConn is one end of an in-memory duplex connection.
type pipeConn struct {
	name   string
	read   chan []byte
	write  chan []byte
	closed chan struct{}
	once   *sync.Once
}

// Pipe creates a connected pair of in-memory connections, one for each
// side. Frames written on one end are read on the other. Closing either
// end ends both. Used to host an agent and its client in one process and
// throughout the tests.
func Pipe() (Conn, Conn) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{name: "pipe", read: a, write: b, closed: closed, once: once},
		&pipeConn{name: "pipe", read: b, write: a, closed: closed, once: once}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.read:
		return data, nil
	case <-c.closed:
		// Drain frames that were in flight before the close.
		select {
		case data := <-c.read:
			return data, nil
		default:
			return nil, io.EOF
		}
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case <-c.closed:
		return errors.New("pipe closed")
	case c.write <- cp:
		return nil
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) Name() string { return c.name }
