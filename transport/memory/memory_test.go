package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/transport"
	"github.com/streamrpc/streamrpc/transport/memory"
)

func TestPair_DeliversAcrossEndpoints(t *testing.T) {
	a, b := memory.NewPair(4)
	ctx := context.Background()

	if err := a.SendMessage(ctx, 1, []byte("payload")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := a.SendMetadata(ctx, 1, metadata.ForClientInitial("/X/Y"), false); err != nil {
		t.Fatalf("SendMetadata: %v", err)
	}

	select {
	case msg := <-b.Incoming():
		if msg.Kind != transport.KindPayload || string(msg.Payload) != "payload" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case msg := <-b.Incoming():
		if msg.Kind != transport.KindMetadata || msg.Metadata.GetHeaderValue(metadata.KeyPath) != "/X/Y" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for metadata")
	}
}

func TestClose_ClosesPeerIncoming(t *testing.T) {
	a, b := memory.NewPair(4)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-b.Incoming():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestSendAfterClose(t *testing.T) {
	a, _ := memory.NewPair(4)
	_ = a.Close()

	err := a.SendMessage(context.Background(), 1, []byte("x"))
	if err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, _ := memory.NewPair(4)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
