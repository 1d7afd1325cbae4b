// Package tcp is the reference TCP transport.Transport: each side runs one
// reader goroutine decoding wire.Parser records off a net.Conn and one
// bounded outbound queue drained by a writer goroutine, the same
// single-reader/single-writer split the core's dispatcher/processor model
// assumes (§5). Server-side connection accept is bounded with
// golang.org/x/net/netutil.LimitListener, generalizing the pack's
// connection-capacity-limiting idiom to this transport's Listen helper.
package tcp

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/net/netutil"

	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/transport/wire"
)

// DefaultOutboundQueueSize bounds the writer goroutine's backlog.
const DefaultOutboundQueueSize = 64

// DefaultMaxConns bounds concurrent accepted connections in Listen.
const DefaultMaxConns = 256

// Conn is a transport.Transport backed by one net.Conn. closed and the send
// path share mu so a concurrent Close can never close out from under a
// send already past its closed check (send on closed channel panics).
type Conn struct {
	nc net.Conn

	out chan transport.Message
	in  chan transport.Message

	mu       sync.RWMutex
	closed   bool
	writeErr atomic.Error
}

// New wraps an already-established net.Conn (client dial or server
// accept) as a transport.Transport. outboundQueueSize <= 0 uses
// DefaultOutboundQueueSize.
func New(nc net.Conn, outboundQueueSize int) *Conn {
	if outboundQueueSize <= 0 {
		outboundQueueSize = DefaultOutboundQueueSize
	}

	c := &Conn{
		nc:  nc,
		out: make(chan transport.Message, outboundQueueSize),
		in:  make(chan transport.Message, outboundQueueSize),
	}

	go c.writeLoop()
	go c.readLoop()

	return c
}

// Dial connects to addr and wraps the connection.
func Dial(ctx context.Context, addr string, outboundQueueSize int) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "tcp: dial failed")
	}
	return New(nc, outboundQueueSize), nil
}

// Listen binds addr and returns a net.Listener capped at maxConns
// concurrent accepted connections (maxConns <= 0 uses DefaultMaxConns).
// Each Accept()-ed net.Conn should be wrapped with New.
func Listen(addr string, maxConns int) (net.Listener, error) {
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "tcp: listen failed")
	}
	return netutil.LimitListener(ln, maxConns), nil
}

func (c *Conn) SendMessage(ctx context.Context, streamID uint64, frameBytes []byte) error {
	return c.send(ctx, transport.Message{StreamID: streamID, Kind: transport.KindPayload, Payload: frameBytes})
}

func (c *Conn) SendMetadata(ctx context.Context, streamID uint64, md metadata.Metadata, endStream bool) error {
	return c.send(ctx, transport.Message{StreamID: streamID, Kind: transport.KindMetadata, Metadata: md, EndStream: endStream})
}

func (c *Conn) send(ctx context.Context, msg transport.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.WithStack(transport.ErrTransportUnavailable)
	}
	select {
	case c.out <- msg:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "tcp: send cancelled")
	}
}

func (c *Conn) Incoming() <-chan transport.Message { return c.in }

func (c *Conn) writeLoop() {
	for msg := range c.out {
		data, err := wire.Encode(msg)
		if err != nil {
			c.writeErr.Store(err)
			continue
		}
		if _, err := c.nc.Write(data); err != nil {
			c.writeErr.Store(errors.Wrap(err, "tcp: write failed"))
			_ = c.Close()
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.in)

	parser := wire.NewParser(0)
	buf := make([]byte, 32*1024)

	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			msgs, perr := parser.Feed(buf[:n])
			for _, m := range msgs {
				c.in <- m
			}
			if perr != nil {
				_ = c.Close()
				return
			}
		}
		if err != nil {
			_ = c.Close()
			return
		}
	}
}

// Close closes the underlying net.Conn and stops both loops. Idempotent.
// Holding mu for both the closed check in send and the close here rules out
// the send-on-closed-channel race between a racing Close and send.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	err := c.nc.Close()
	close(c.out)
	return err
}
