// Package frame implements the wire framing shared by every streamrpc
// message: a one-byte reserved/compression flag, a 4-byte big-endian
// length, and the codec-serialized payload.
//
// header (compressed-flag(1) + message-length(4)) + body
// grounded in heartandu-grpc-web-go-client/grpcweb.header/encodeRequestBody,
// generalized into a resumable multi-frame parser per the core spec.
package frame

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderLen is the size of the frame prefix in bytes.
const HeaderLen = 5

// DefaultMaxMessageSize is the default cap on a single declared frame
// length, matching the spec's 16 MiB default.
const DefaultMaxMessageSize = 16 * 1024 * 1024

// ProtocolErrorKind classifies a framing-level protocol violation.
type ProtocolErrorKind int

const (
	// UnsupportedCompression is returned when the compressed-flag byte is
	// non-zero; the core never sets it but must reject it on decode.
	UnsupportedCompression ProtocolErrorKind = iota
	// MessageTooLarge is returned when a declared frame length exceeds the
	// configured cap.
	MessageTooLarge
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case UnsupportedCompression:
		return "unsupported compression"
	case MessageTooLarge:
		return "message too large"
	default:
		return "unknown protocol error"
	}
}

// ProtocolError is returned by Parser.Feed on malformed input.
type ProtocolError struct {
	Kind ProtocolErrorKind
}

func (e *ProtocolError) Error() string { return "frame: " + e.Kind.String() }

// Encode wraps bytes in the five-byte frame prefix. The compressed flag is
// always zero; the core never compresses.
func Encode(payload []byte) []byte {
	out := make([]byte, HeaderLen+len(payload))
	// out[0] left at zero: the compressed flag.
	binary.BigEndian.PutUint32(out[1:HeaderLen], uint32(len(payload)))
	copy(out[HeaderLen:], payload)
	return out
}

// Parser is a resumable, single-stream frame decoder. It is not safe for
// concurrent use; each processor owns exactly one Parser instance.
type Parser struct {
	buf        []byte
	maxMsgSize int
}

// NewParser constructs a Parser with the given cap on a single message's
// declared length. A maxMsgSize of zero uses DefaultMaxMessageSize.
func NewParser(maxMsgSize int) *Parser {
	if maxMsgSize <= 0 {
		maxMsgSize = DefaultMaxMessageSize
	}
	return &Parser{maxMsgSize: maxMsgSize}
}

// Feed appends newly arrived bytes and returns every complete message
// decoded so far, retaining any trailing incomplete frame for the next
// call. It tolerates arbitrary fragmentation, including a single byte at a
// time, and multiple concatenated frames within one call.
func (p *Parser) Feed(chunk []byte) ([][]byte, error) {
	if len(chunk) > 0 {
		p.buf = append(p.buf, chunk...)
	}

	var out [][]byte

	for {
		if len(p.buf) < HeaderLen {
			break
		}

		flag := p.buf[0]
		if flag != 0 {
			return out, errors.WithStack(&ProtocolError{Kind: UnsupportedCompression})
		}

		length := binary.BigEndian.Uint32(p.buf[1:HeaderLen])
		if int(length) > p.maxMsgSize {
			return out, errors.WithStack(&ProtocolError{Kind: MessageTooLarge})
		}

		total := HeaderLen + int(length)
		if len(p.buf) < total {
			break
		}

		msg := make([]byte, length)
		copy(msg, p.buf[HeaderLen:total])
		out = append(out, msg)

		p.buf = p.buf[total:]
	}

	// Release the backing array once fully drained so a long-lived
	// processor doesn't pin a large buffer after a burst of traffic.
	if len(p.buf) == 0 {
		p.buf = nil
	}

	return out, nil
}

// Pending reports the number of bytes currently buffered awaiting more
// data to complete a frame.
func (p *Parser) Pending() int { return len(p.buf) }
