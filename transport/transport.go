// Package transport defines the abstract duplex byte channel the call-layer
// core consumes (§4.3 of the spec). Concrete transports — in-memory,
// WebSocket, TCP — are external collaborators that satisfy this interface;
// none of them are imported by the core packages, only by callers wiring a
// concrete ClientConn/Server together.
package transport

import (
	"context"

	"github.com/streamrpc/streamrpc/metadata"
)

// MessageKind distinguishes the two TransportMessage shapes.
type MessageKind int

const (
	KindMetadata MessageKind = iota
	KindPayload
)

// Message is the unified envelope a Transport delivers to the dispatcher.
// Exactly one of Metadata/Payload is populated, selected by Kind.
type Message struct {
	StreamID  uint64
	Kind      MessageKind
	Metadata  metadata.Metadata
	Payload   []byte
	EndStream bool
}

// ErrTransportUnavailable is returned (wrapped) by Send* after Close. When
// Incoming closes, the dispatcher passes it to every live processor's
// abort.
var ErrTransportUnavailable = transportError{"transport unavailable"}

type transportError struct{ msg string }

func (e transportError) Error() string { return e.msg }

// Transport is the abstract duplex byte channel the core requires. All
// implementations must preserve per-stream ordering; they may interleave
// distinct streams freely.
type Transport interface {
	// SendMessage fire-and-forgets one already-framed payload on streamID.
	SendMessage(ctx context.Context, streamID uint64, frameBytes []byte) error

	// SendMetadata sends a metadata frame on streamID, preserving ordering
	// relative to SendMessage calls on the same streamID.
	SendMetadata(ctx context.Context, streamID uint64, md metadata.Metadata, endStream bool) error

	// Incoming returns the single-consumer channel of inbound messages,
	// delivered in arrival order per streamID. It is closed when the
	// transport is closed or the peer disconnects.
	Incoming() <-chan Message

	// Close tears down the transport. After Close, Send* return
	// ErrTransportUnavailable and Incoming's channel is closed.
	Close() error
}
