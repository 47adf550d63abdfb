package peering

import (
	"bytes"
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

var ErrInfoHashMismatch = errors.New("peer answered with a different info hash")

const readChunkSize = 32 * 1024

// Conn is one peer connection. It owns the stream, the bytes read but not yet
// decoded, and the session flags; nothing in it is shared with other
// connections. A Conn is not safe for concurrent use.
type Conn struct {
	conn  net.Conn
	buf   bytes.Buffer
	chunk []byte
	state SessionState
	log   *zap.Logger

	handshakes HandshakeCodec
	messages   MessageCodec
}

// Dial opens a TCP connection to addr through dialer, proxy.Direct when nil.
func Dial(ctx context.Context, dialer proxy.Dialer, addr string) (*Conn, error) {
	if dialer == nil {
		dialer = proxy.Direct
	}
	var (
		c   net.Conn
		err error
	)
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		c, err = cd.DialContext(ctx, "tcp", addr)
	} else {
		c, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to peer %s", addr)
	}
	return NewConn(c), nil
}

// NewConn wraps an established stream.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn:  c,
		chunk: make([]byte, readChunkSize),
		state: NewSessionState(),
		log:   zap.L().Named("peer").With(zap.Stringer("addr", c.RemoteAddr())),
	}
}

func (c *Conn) State() SessionState {
	return c.state
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Handshake sends local and waits for the peer's handshake, which must carry
// the same info hash.
func (c *Conn) Handshake(ctx context.Context, local Handshake) (Handshake, error) {
	defer c.bind(ctx)()

	if _, err := c.conn.Write(c.handshakes.Encode(nil, local)); err != nil {
		return Handshake{}, errors.Wrap(err, "failed to send handshake")
	}
	for {
		d := c.handshakes.DecodeBuffer(&c.buf)
		switch d.Outcome {
		case Parsed:
			if d.Value.InfoHash != local.InfoHash {
				return Handshake{}, ErrInfoHashMismatch
			}
			c.log.Debug("handshake complete", zap.Stringer("peer_id", d.Value.PeerID))
			return d.Value, nil
		case Invalid:
			return Handshake{}, d.Err
		case NeedMore:
			if err := c.fill(); err != nil {
				return Handshake{}, errors.Wrap(err, "failed to receive handshake")
			}
		}
	}
}

// ReadMessage returns the next message in wire order and applies it to the
// peer side of the session state.
func (c *Conn) ReadMessage(ctx context.Context) (Message, error) {
	defer c.bind(ctx)()

	for {
		d := c.messages.DecodeBuffer(&c.buf)
		switch d.Outcome {
		case Parsed:
			c.state.Received(d.Value)
			c.log.Debug("message received", zap.Stringer("id", d.Value.ID()))
			return d.Value, nil
		case Invalid:
			return nil, d.Err
		case NeedMore:
			if err := c.fill(); err != nil {
				return nil, errors.Wrap(err, "failed to read message")
			}
		}
	}
}

// WriteMessage sends m and applies it to the local side of the session state.
func (c *Conn) WriteMessage(ctx context.Context, m Message) error {
	defer c.bind(ctx)()

	if _, err := c.conn.Write(c.messages.Encode(nil, m)); err != nil {
		return errors.Wrapf(err, "failed to send %s", m.ID())
	}
	c.state.Sent(m)
	c.log.Debug("message sent", zap.Stringer("id", m.ID()))
	return nil
}

// Close drops the stream and any partially received frame.
func (c *Conn) Close() error {
	c.buf.Reset()
	return c.conn.Close()
}

// fill reads whatever the stream has next into the buffer.
func (c *Conn) fill() error {
	n, err := c.conn.Read(c.chunk)
	c.buf.Write(c.chunk[:n])
	if n > 0 || err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) && c.buf.Len() > 0 {
		return io.ErrUnexpectedEOF
	}
	return err
}

// bind applies the context's deadline and cancellation to the stream until the
// returned func is called.
func (c *Conn) bind(ctx context.Context) func() {
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
	}
}
