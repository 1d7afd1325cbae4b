package streamrpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"

	"github.com/streamrpc/streamrpc/codec/jsoncodec"
	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/rpclog"
	"github.com/streamrpc/streamrpc/transport/memory"
)

// TestCallProcessor_PayloadBeforeHeaders verifies §3's ordering invariant:
// a Payload arriving before the InitialResponse metadata is a protocol
// error, not silently buffered.
func TestCallProcessor_PayloadBeforeHeaders(t *testing.T) {
	a, b := memory.NewPair(4)
	defer a.Close()
	defer b.Close()

	d := newDispatcher(a, rpclog.Nop())
	defer d.close()

	cp, err := newCallProcessor[string, string](
		context.Background(), a, d, 1, "/X/Y", Unary,
		jsoncodec.New[string](), jsoncodec.New[string](), rpclog.Nop(), 0,
	)
	if err != nil {
		t.Fatalf("newCallProcessor: %v", err)
	}
	defer cp.close()

	// Drain the InitialRequest metadata this call just sent.
	<-b.Incoming()

	// Server side sends a payload before InitialResponse metadata.
	if err := b.SendMessage(context.Background(), 1, []byte{0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// finish() runs asynchronously off the pump goroutine; wait for it via
	// the closed responses channel instead of a fixed sleep.
	for range cp.responsesCh() {
	}

	if err := cp.err(); err == nil {
		t.Fatal("expected a protocol error")
	}
}

// TestCallProcessor_DuplicateHeaders verifies two InitialResponse metadata
// messages on the same stream is rejected.
func TestCallProcessor_DuplicateHeaders(t *testing.T) {
	a, b := memory.NewPair(4)
	defer a.Close()
	defer b.Close()

	d := newDispatcher(a, rpclog.Nop())
	defer d.close()

	cp, err := newCallProcessor[string, string](
		context.Background(), a, d, 1, "/X/Y", Unary,
		jsoncodec.New[string](), jsoncodec.New[string](), rpclog.Nop(), 0,
	)
	if err != nil {
		t.Fatalf("newCallProcessor: %v", err)
	}
	defer cp.close()

	<-b.Incoming()

	_ = b.SendMetadata(context.Background(), 1, metadata.ForServerInitialResponse(), false)
	_ = b.SendMetadata(context.Background(), 1, metadata.ForServerInitialResponse(), false)

	for range cp.responsesCh() {
	}

	err = cp.err()
	if err == nil {
		t.Fatal("expected a protocol error after duplicate headers")
	}
	rse, ok := err.(*RpcStatusError)
	if !ok || rse.Status.Code() != codes.Internal {
		t.Fatalf("got %v", err)
	}
}
