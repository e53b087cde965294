package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"commlink/internal/protocol"
)

// Connection owns one TCP stream and speaks the framed protocol over it.
// Send is safe for concurrent use; Receive must only be called from the
// single goroutine that owns the read side (the session loop).
type Connection struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	decoder protocol.Decoder

	writeMu      sync.Mutex // serialises whole frames on the write path
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// ConnectionOption tunes a Connection at construction time.
type ConnectionOption func(*Connection)

// WithMaxFrameSize caps the payload size accepted by Receive.
func WithMaxFrameSize(n uint64) ConnectionOption {
	return func(c *Connection) {
		c.decoder.MaxPayload = n
	}
}

// WithWriteTimeout bounds how long a single Send may block on the socket.
// Zero means no deadline.
func WithWriteTimeout(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.writeTimeout = d
	}
}

// constructor for Connection
func NewConnection(conn net.Conn, opts ...ConnectionOption) *Connection {
	c := &Connection{
		conn:   conn,
		reader: bufio.NewReader(conn), // buffered reader, the codec still asks for exact byte counts
		writer: bufio.NewWriter(conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send encodes m and writes the whole frame before any other Send on this
// connection may start.
func (c *Connection) Send(m protocol.Message) error {
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return protocol.ErrConnectionClosed
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return c.writeError(err)
		}
	}

	if err := writeFull(c.writer, frame); err != nil {
		return c.writeError(err)
	}
	if err := c.writer.Flush(); err != nil {
		return c.writeError(err)
	}
	return nil
}

// writeFull keeps writing until every byte of p is accepted. bufio.Writer
// already loops internally, but a writer that reports a short count without
// an error must not silently lose the tail of a frame.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func (c *Connection) writeError(err error) error {
	if c.closed.Load() || errors.Is(err, net.ErrClosed) {
		return protocol.ErrConnectionClosed
	}
	return fmt.Errorf("failed to write frame: %w", err)
}

// Receive blocks until one complete message has been read. A clean close by
// either side yields protocol.ErrConnectionClosed.
func (c *Connection) Receive() (protocol.Message, error) {
	msg, err := c.decoder.Decode(c.reader)
	if err == nil {
		return msg, nil
	}

	// once Close has been called every read failure is just the socket
	// going away underneath us
	if c.closed.Load() || errors.Is(err, net.ErrClosed) {
		return protocol.Message{}, protocol.ErrConnectionClosed
	}
	return protocol.Message{}, err
}

// Close shuts the socket down. It is idempotent and may be called from any
// goroutine, including while another goroutine is blocked in Receive.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the peer's address as seen at connection time.
func (c *Connection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
