// Package streamrpc is the call-layer state machine and multiplexer: the
// per-stream lifecycle, the four responder/caller pattern engines, and the
// frame codec glue that bridges serialized application messages to/from a
// pluggable transport.Transport (§1).
package streamrpc

import (
	"github.com/streamrpc/streamrpc/rpclog"
	"github.com/streamrpc/streamrpc/transport"
)

// ClientConn binds one transport to a dispatcher and stream-id allocator.
// Callers invoke CallUnary/NewClientStreamCall/NewServerStreamCall/NewBidiCall
// against it (top-level generic functions, since Go methods cannot carry
// their own type parameters).
type ClientConn struct {
	tr   transport.Transport
	disp *dispatcher
	ids  *idAllocator

	logger *rpclog.Logger
	opts   dialOptions
}

// NewClientConn wraps tr for outbound calls.
func NewClientConn(tr transport.Transport, opts ...DialOption) *ClientConn {
	o := defaultDialOptions
	for _, f := range opts {
		f(&o)
	}

	logger := rpclog.New(o.logConfig)

	return &ClientConn{
		tr:     tr,
		disp:   newDispatcher(tr, logger),
		ids:    newClientIDAllocator(),
		logger: logger,
		opts:   o,
	}
}

// Close tears down the underlying transport and stops the dispatcher.
func (cc *ClientConn) Close() error { return cc.disp.close() }
