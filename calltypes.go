package streamrpc

import "github.com/streamrpc/streamrpc/metadata"

// CallKind constrains how many messages each side may send before the
// trailer (§3).
type CallKind int

const (
	Unary CallKind = iota
	ClientStream
	ServerStream
	Bidi
)

func (k CallKind) String() string {
	switch k {
	case Unary:
		return "Unary"
	case ClientStream:
		return "ClientStream"
	case ServerStream:
		return "ServerStream"
	case Bidi:
		return "Bidi"
	default:
		return "Unknown"
	}
}

func (k CallKind) clientMayStreamRequests() bool {
	return k == ClientStream || k == Bidi
}

func (k CallKind) serverMayStreamResponses() bool {
	return k == ServerStream || k == Bidi
}

// CallMessageKind tags a CallMessage as carrying metadata or a decoded
// payload.
type CallMessageKind int

const (
	MetadataMsg CallMessageKind = iota
	PayloadMsg
)

// CallMessage is one item observed from a processor's response or request
// sequence: either Metadata(m) or Payload(r) (§4.4/§4.5).
type CallMessage[T any] struct {
	Kind     CallMessageKind
	Metadata metadata.Metadata
	Payload  T
}
