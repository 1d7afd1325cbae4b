package protocodec_test

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/streamrpc/streamrpc/codec/protocodec"
)

func TestCodec_RoundTrip(t *testing.T) {
	c := protocodec.Codec[*wrapperspb.StringValue]{New: func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }}

	b, err := c.Serialize(wrapperspb.String("hello"))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := c.Deserialize(b)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.GetValue() != "hello" {
		t.Fatalf("got %q", got.GetValue())
	}
	if c.Name() != "proto" {
		t.Errorf("Name() = %q", c.Name())
	}
}

func TestLegacyMarshal(t *testing.T) {
	v := wrapperspb.String("legacy")
	b, err := protocodec.LegacyMarshal(v)
	if err != nil {
		t.Fatalf("LegacyMarshal: %v", err)
	}

	var out wrapperspb.StringValue
	if err := proto.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.GetValue() != "legacy" {
		t.Fatalf("got %q", out.GetValue())
	}
}
