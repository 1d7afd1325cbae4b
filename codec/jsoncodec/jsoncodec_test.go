package jsoncodec_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/streamrpc/streamrpc/codec/jsoncodec"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestCodec_RoundTrip(t *testing.T) {
	c := jsoncodec.New[point]()

	b, err := c.Serialize(point{X: 1, Y: 2})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := c.Deserialize(b)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if diff := cmp.Diff(point{X: 1, Y: 2}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if c.Name() != "json" {
		t.Errorf("Name() = %q", c.Name())
	}
}

func TestCodec_DeserializeMalformed(t *testing.T) {
	c := jsoncodec.New[point]()
	if _, err := c.Deserialize([]byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}
