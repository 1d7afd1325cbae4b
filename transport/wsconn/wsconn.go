// Package wsconn is the reference WebSocket transport.Transport, built on
// github.com/gorilla/websocket the same way the pack's grpc-web client
// wraps gorilla/websocket's *websocket.Conn in
// grpcweb/transport/transport.go's bidi-streaming transport. Each
// wire.EncodeBody record is sent as one binary WebSocket frame, so no
// outer length-prefix or resumable parser is needed here (unlike
// transport/tcp): the frame boundary is the message boundary.
package wsconn

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/transport/wire"
)

// DefaultOutboundQueueSize bounds the writer goroutine's backlog.
const DefaultOutboundQueueSize = 64

// Upgrader is the shared gorilla/websocket upgrader used by Accept. Its
// CheckOrigin is nil, so gorilla/websocket's default applies: a request
// whose Origin header names a host other than the request's Host is
// rejected.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Conn is a transport.Transport backed by one *websocket.Conn. closed and
// the send path share mu so a concurrent Close can never close out from
// under a send already past its closed check (send on closed channel
// panics).
type Conn struct {
	ws *websocket.Conn

	out chan transport.Message
	in  chan transport.Message

	mu       sync.RWMutex
	closed   bool
	writeErr atomic.Error
}

// New wraps an already-established *websocket.Conn (client dial or server
// Accept) as a transport.Transport.
func New(ws *websocket.Conn, outboundQueueSize int) *Conn {
	if outboundQueueSize <= 0 {
		outboundQueueSize = DefaultOutboundQueueSize
	}

	c := &Conn{
		ws:  ws,
		out: make(chan transport.Message, outboundQueueSize),
		in:  make(chan transport.Message, outboundQueueSize),
	}

	go c.writeLoop()
	go c.readLoop()

	return c
}

// Dial connects to a ws(s):// url and wraps the resulting connection.
func Dial(ctx context.Context, url string, outboundQueueSize int) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "wsconn: dial failed")
	}
	return New(ws, outboundQueueSize), nil
}

// Accept upgrades an inbound HTTP request to a WebSocket connection and
// wraps it.
func Accept(w http.ResponseWriter, r *http.Request, outboundQueueSize int) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "wsconn: upgrade failed")
	}
	return New(ws, outboundQueueSize), nil
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
		return errors.Wrap(ctx.Err(), "wsconn: send cancelled")
	}
}

func (c *Conn) Incoming() <-chan transport.Message { return c.in }

func (c *Conn) writeLoop() {
	for msg := range c.out {
		body, err := wire.EncodeBody(msg)
		if err != nil {
			c.writeErr.Store(err)
			continue
		}
		if err := c.ws.WriteMessage(websocket.BinaryMessage, body); err != nil {
			c.writeErr.Store(errors.Wrap(err, "wsconn: write failed"))
			_ = c.Close()
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.in)

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			_ = c.Close()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg, err := wire.DecodeBody(data)
		if err != nil {
			_ = c.Close()
			return
		}
		c.in <- msg
	}
}

// Close closes the underlying *websocket.Conn and stops both loops.
// Idempotent. Holding mu for both the closed check in send and the close
// here rules out the send-on-closed-channel race between a racing Close
// and send.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	err := c.ws.Close()
	close(c.out)
	return err
}
