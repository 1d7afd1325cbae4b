package streamrpc

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ProtocolErrorKind enumerates the taxonomy in §7 beyond framing (frame's
// own ProtocolErrorKind covers UnsupportedCompression/MessageTooLarge).
type ProtocolErrorKind int

const (
	DuplicateHeaders ProtocolErrorKind = iota
	PayloadBeforeHeaders
	TrailerBeforeHeaders
	TrailerMissingStatus
	ExtraResponsePayload
	ExtraRequestInUnary
	UnknownStreamID
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case DuplicateHeaders:
		return "duplicate headers"
	case PayloadBeforeHeaders:
		return "payload before headers"
	case TrailerBeforeHeaders:
		return "trailer before headers"
	case TrailerMissingStatus:
		return "trailer missing grpc-status"
	case ExtraResponsePayload:
		return "more than one response payload when exactly one was expected"
	case ExtraRequestInUnary:
		return "more than one request before trailer in unary call"
	case UnknownStreamID:
		return "message for unknown stream id"
	default:
		return "unknown protocol error"
	}
}

// ProtocolError is a core-level (non-framing) protocol violation (§7).
type ProtocolError struct {
	Kind ProtocolErrorKind
}

func (e *ProtocolError) Error() string { return "streamrpc: " + e.Kind.String() }

// Status returns the classified status a ProtocolError should surface as.
func (e *ProtocolError) Status() *status.Status {
	switch e.Kind {
	case ExtraResponsePayload, ExtraRequestInUnary:
		return status.New(codes.InvalidArgument, e.Error())
	default:
		return status.New(codes.Internal, e.Error())
	}
}

// RpcStatusError carries a peer's non-OK trailer toward the consumer of a
// response/request sequence (§7's RpcStatusError).
type RpcStatusError struct {
	Status *status.Status
}

func (e *RpcStatusError) Error() string {
	if e.Status == nil {
		return "streamrpc: rpc error"
	}
	return fmt.Sprintf("streamrpc: rpc error: code = %s desc = %s", e.Status.Code(), e.Status.Message())
}

func (e *RpcStatusError) GRPCStatus() *status.Status { return e.Status }

// newRPCStatusError wraps a *status.Status as an error the consumer
// observes when a call completes with a non-OK trailer.
func newRPCStatusError(st *status.Status) error {
	if st == nil || st.Code() == codes.OK {
		return nil
	}
	return &RpcStatusError{Status: st}
}

// ErrClosedStream is returned by send operations attempted after the
// processor has reached TrailerSent/Closed.
var ErrClosedStream = status.Error(codes.Internal, "streamrpc: stream already closed")

// ErrCancelled is the local error a consumer observes when the call's
// context is cancelled before completion (§7 Cancelled). A deadline expiry
// yields timeoutError instead.
var ErrCancelled = status.New(codes.Canceled, "streamrpc: call cancelled by caller").Err()

// timeoutError marks a caller-side deadline elapsing (§7 Timeout).
func timeoutError() error {
	return status.New(codes.DeadlineExceeded, "streamrpc: call timed out").Err()
}

// handlerError converts a server handler's error/panic value into the
// INTERNAL trailer status carrying its display string (§7 HandlerError,
// §4.8). An error that already carries a gRPC status keeps that status's
// code and message.
func handlerError(v any) *status.Status {
	if err, ok := v.(error); ok {
		if st, ok := status.FromError(err); ok {
			return st
		}
		return status.New(codes.Internal, err.Error())
	}
	return status.New(codes.Internal, fmt.Sprint(v))
}
