// Package jsoncodec implements codec.Codec[T] over encoding/json. There is
// no third-party JSON library anywhere in the retrieval pack, so this one
// concern is carried on the standard library — see DESIGN.md.
package jsoncodec

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Codec is a codec.Codec[T] backed by encoding/json.
type Codec[T any] struct{}

// New constructs a Codec[T].
func New[T any]() Codec[T] { return Codec[T]{} }

func (Codec[T]) Serialize(v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "jsoncodec: marshal")
	}
	return b, nil
}

func (Codec[T]) Deserialize(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Wrap(err, "jsoncodec: unmarshal")
	}
	return v, nil
}

func (Codec[T]) Name() string { return "json" }
