// Package codec defines the Codec[T] contract the core consumes to turn
// application messages into bytes and back (§1: "out of scope, specified
// only by the interface"). Concrete codecs live in subpackages.
package codec

// Codec serializes and deserializes one application message type. The core
// never inspects T; it only calls Serialize/Deserialize around the frame
// codec.
type Codec[T any] interface {
	Serialize(v T) ([]byte, error)
	Deserialize(data []byte) (T, error)
	Name() string
}
