package transport

import (
	"bufio"
	"io"
	"sync"

	"github.com/gorilla/websocket"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
)

// Conn is one physical channel carrying raw JSON-RPC frames: a process
// pipe pair or one network socket. Implementations must support one
// concurrent reader and any number of concurrent writers.
type Conn interface {
	// ReadMessage blocks until the next raw frame arrives. It returns
	// io.EOF (or a wrapped close error) when the peer disconnects.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one raw frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close tears the channel down. Idempotent.
	Close() error

	// Name identifies the transport kind for logs and errors.
	Name() string
}

// stdioConn frames newline-delimited JSON over an input/output stream
// pair. The output stream is reserved exclusively for protocol traffic;
// logging goes to stderr.
type stdioConn struct {
	reader    *bufio.Scanner
	writer    io.Writer
	rawWriter *bufio.Writer
	writeMu   sync.Mutex
	closer    io.Closer
	closeOnce sync.Once
	closeErr  error
}

// maxStdioFrame bounds a single newline-delimited frame. Large prompt
// payloads with embedded context can exceed bufio's 64KiB default.
const maxStdioFrame = 16 * 1024 * 1024

// NewStdioConn creates a Conn over an arbitrary reader/writer pair. Pass
// os.Stdin and os.Stdout for a real agent process; tests pass pipes.
func NewStdioConn(r io.Reader, w io.Writer) Conn {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxStdioFrame)

	c := &stdioConn{
		reader:    scanner,
		writer:    w,
		rawWriter: bufio.NewWriter(w),
	}
	if closer, ok := r.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

func (c *stdioConn) ReadMessage() ([]byte, error) {
	if !c.reader.Scan() {
		if err := c.reader.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	line := c.reader.Bytes()
	// Copy: the scanner reuses its buffer on the next Scan.
	data := make([]byte, len(line))
	copy(data, line)
	return data, nil
}

func (c *stdioConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.rawWriter.Write(data); err != nil {
		return acperrors.MessageSendError("stdio", "frame", err)
	}
	if err := c.rawWriter.WriteByte('\n'); err != nil {
		return acperrors.MessageSendError("stdio", "frame", err)
	}
	if err := c.rawWriter.Flush(); err != nil {
		return acperrors.MessageSendError("stdio", "frame", err)
	}
	return nil
}

func (c *stdioConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closeErr = c.rawWriter.Flush()
		c.writeMu.Unlock()
		if c.closer != nil {
			// Unblocks a reader stuck in Scan.
			_ = c.closer.Close()
		}
	})
	return c.closeErr
}

func (c *stdioConn) Name() string { return "stdio" }

// wsConn adapts one accepted (or dialed) WebSocket connection. Binary
// frames are decoded as text before parsing, per the protocol contract.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps a gorilla WebSocket connection.
func NewWebSocketConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			// Binary payloads are treated as UTF-8 text; the codec will
			// classify anything undecodable as an invalid frame.
			return data, nil
		default:
			// Control frames are handled by the library; skip anything else.
			continue
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return acperrors.MessageSendError("websocket", "frame", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) Name() string { return "websocket" }
