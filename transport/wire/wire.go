// Package wire is the byte-stream rendering of transport.Message shared by
// the TCP and WebSocket reference transports: a self-delimited binary
// record (stream id, kind, end-stream flag, flattened metadata pairs,
// payload), framed the same length-prefixed way frame.Parser frames
// application payloads, so a stream-oriented net.Conn can resume decoding
// across arbitrary read boundaries exactly like the call-layer's own
// codec does.
package wire

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/grpc/metadata"

	coremeta "github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/transport"
)

// HeaderLen is the outer length-prefix size, matching frame.HeaderLen's
// big-endian-uint32 convention (the leading byte here is always zero; kept
// only so the two framings share a decoder shape).
const HeaderLen = 5

// DefaultMaxRecordSize bounds one encoded transport.Message, generous
// enough for frame.DefaultMaxMessageSize plus metadata overhead.
const DefaultMaxRecordSize = 17 * 1024 * 1024

// EncodeBody renders msg without the outer length prefix. WebSocket frames
// are already message-delimited, so wsconn sends EncodeBody's result
// directly as one binary frame.
func EncodeBody(msg transport.Message) ([]byte, error) {
	var buf []byte

	buf = appendUint64(buf, msg.StreamID)
	buf = append(buf, byte(msg.Kind))
	buf = appendBool(buf, msg.EndStream)

	if msg.Kind == transport.KindMetadata {
		buf = append(buf, byte(msg.Metadata.Flavor))
		buf = appendMD(buf, msg.Metadata.MD)
	}

	buf = appendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)

	return buf, nil
}

// Encode renders msg as a length-prefixed record for a stream-oriented
// connection (TCP).
func Encode(msg transport.Message) ([]byte, error) {
	body, err := EncodeBody(msg)
	if err != nil {
		return nil, err
	}
	out := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint32(out[1:HeaderLen], uint32(len(body)))
	copy(out[HeaderLen:], body)
	return out, nil
}

// DecodeBody parses one EncodeBody record.
func DecodeBody(data []byte) (transport.Message, error) {
	var msg transport.Message

	r := reader{buf: data}

	streamID, err := r.uint64()
	if err != nil {
		return msg, err
	}
	kind, err := r.byte()
	if err != nil {
		return msg, err
	}
	endStream, err := r.bool()
	if err != nil {
		return msg, err
	}

	msg.StreamID = streamID
	msg.Kind = transport.MessageKind(kind)
	msg.EndStream = endStream

	if msg.Kind == transport.KindMetadata {
		flavor, err := r.byte()
		if err != nil {
			return msg, err
		}
		md, err := r.md()
		if err != nil {
			return msg, err
		}
		msg.Metadata = coremeta.Metadata{Flavor: coremeta.Flavor(flavor), MD: md}
	}

	payload, err := r.bytes32()
	if err != nil {
		return msg, err
	}
	msg.Payload = payload

	if !r.done() {
		return msg, errors.New("wire: trailing bytes after decoding record")
	}
	return msg, nil
}

// Parser is a resumable decoder over a stream of Encode-framed records,
// structured exactly like frame.Parser (§"Domain Stack": shared
// length-prefix-then-body idiom).
type Parser struct {
	buf        []byte
	maxRecSize int
}

// NewParser constructs a Parser. maxRecSize <= 0 uses
// DefaultMaxRecordSize.
func NewParser(maxRecSize int) *Parser {
	if maxRecSize <= 0 {
		maxRecSize = DefaultMaxRecordSize
	}
	return &Parser{maxRecSize: maxRecSize}
}

// Feed appends chunk and returns every fully decoded transport.Message
// available so far, retaining any trailing partial record.
func (p *Parser) Feed(chunk []byte) ([]transport.Message, error) {
	if len(chunk) > 0 {
		p.buf = append(p.buf, chunk...)
	}

	var out []transport.Message

	for {
		if len(p.buf) < HeaderLen {
			break
		}
		length := binary.BigEndian.Uint32(p.buf[1:HeaderLen])
		if int(length) > p.maxRecSize {
			return out, errors.New("wire: record exceeds max size")
		}
		total := HeaderLen + int(length)
		if len(p.buf) < total {
			break
		}

		msg, err := DecodeBody(p.buf[HeaderLen:total])
		if err != nil {
			return out, err
		}
		out = append(out, msg)
		p.buf = p.buf[total:]
	}

	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendMD(buf []byte, md metadata.MD) []byte {
	var pairs [][2]string
	for k, vs := range md {
		for _, v := range vs {
			pairs = append(pairs, [2]string{k, v})
		}
	}
	buf = appendUint32(buf, uint32(len(pairs)))
	for _, kv := range pairs {
		buf = appendUint32(buf, uint32(len(kv[0])))
		buf = append(buf, kv[0]...)
		buf = appendUint32(buf, uint32(len(kv[1])))
		buf = append(buf, kv[1]...)
	}
	return buf
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) done() bool { return r.off == len(r.buf) }

func (r *reader) need(n int) error {
	if len(r.buf)-r.off < n {
		return errors.New("wire: truncated record")
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.byte()
	return b != 0, err
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) bytes32() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *reader) str() (string, error) {
	b, err := r.bytes32()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) md() (metadata.MD, error) {
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	md := metadata.MD{}
	for i := uint32(0); i < count; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.str()
		if err != nil {
			return nil, err
		}
		k = strings.ToLower(k)
		md[k] = append(md[k], v)
	}
	return md, nil
}
