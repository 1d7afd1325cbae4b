// Package memory provides the in-memory reference Transport: a pair of
// connected endpoints exchanging transport.Message values over Go channels,
// with no serialization step. It is the transport every example/test in
// this repo drives the call-layer engines over, and the one concrete
// transport the spec requires to exist.
//
// The design generalizes the callback-based HalfStream buffering idea from
// the in-process gRPC example in the pack (buffer when nobody's waiting,
// deliver directly otherwise) into a bounded Go channel, which is simpler
// to reason about under the core's single-reader-goroutine-per-transport
// model.
package memory

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/transport"
)

// DefaultQueueSize bounds each direction's channel, matching the spec's
// default inbound-queue bound of 64 messages.
const DefaultQueueSize = 64

// Conn is one endpoint of an in-memory transport pair. closed and the send
// path share mu so a concurrent Close can never close out from under a
// send already past its closed check (send on closed channel panics).
type Conn struct {
	out    chan transport.Message
	in     chan transport.Message
	peer   *Conn
	mu     sync.RWMutex
	closed bool
}

// NewPair creates two connected Conn values: messages sent on a arrive on
// b's Incoming channel, and vice versa. queueSize <= 0 uses
// DefaultQueueSize.
func NewPair(queueSize int) (a, b *Conn) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ab := make(chan transport.Message, queueSize)
	ba := make(chan transport.Message, queueSize)

	a = &Conn{out: ab, in: ba}
	b = &Conn{out: ba, in: ab}
	a.peer, b.peer = b, a
	return a, b
}

func (c *Conn) SendMessage(ctx context.Context, streamID uint64, frameBytes []byte) error {
	return c.send(ctx, transport.Message{
		StreamID: streamID,
		Kind:     transport.KindPayload,
		Payload:  frameBytes,
	})
}

func (c *Conn) SendMetadata(ctx context.Context, streamID uint64, md metadata.Metadata, endStream bool) error {
	return c.send(ctx, transport.Message{
		StreamID:  streamID,
		Kind:      transport.KindMetadata,
		Metadata:  md,
		EndStream: endStream,
	})
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
		return errors.Wrap(ctx.Err(), "memory transport: send cancelled")
	}
}

func (c *Conn) Incoming() <-chan transport.Message { return c.in }

// Close marks this endpoint closed and closes the channel this endpoint
// owns as a writer, which surfaces as the peer's Incoming channel closing,
// then closes the peer the same way, so this endpoint's own Incoming
// channel closes too (as with the TCP and WebSocket transports, where the
// peer's read loop sees EOF and closes its side). Sends on either endpoint
// after Close fail with ErrTransportUnavailable. Close is idempotent.
// Holding mu for both the closed check in send and the close here rules out
// the send-on-closed-channel race between a racing Close and send.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.out)
	c.mu.Unlock()

	return c.peer.Close()
}
