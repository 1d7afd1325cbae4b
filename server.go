package streamrpc

import (
	"sync"

	"github.com/streamrpc/streamrpc/rpclog"
	"github.com/streamrpc/streamrpc/transport"
)

// responderFactory constructs the dispatcher-bound server-side processor
// for one registered path. It is wrapped once per Serve(tr) call so the
// same Server can serve multiple independent transports/connections.
type responderFactory func(d *dispatcher, streamID uint64) inboundSink

// Server holds the path -> responder registry shared across every
// transport it Serves. Registration fails at setup time on a duplicate
// path (§4.7 tie-break); Serve may be called more than once, e.g. once per
// accepted connection.
type Server struct {
	logger *rpclog.Logger
	opts   serverOptions

	mu        sync.Mutex
	factories map[string]responderFactory
}

// NewServer constructs an empty Server; register responders with
// RegisterUnary/RegisterClientStream/RegisterServerStream/RegisterBidi
// before calling Serve.
func NewServer(opts ...ServerOption) *Server {
	o := defaultServerOptions
	for _, f := range opts {
		f(&o)
	}

	return &Server{
		logger:    rpclog.New(o.logConfig),
		opts:      o,
		factories: make(map[string]responderFactory),
	}
}

func (srv *Server) register(path string, f responderFactory) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if _, exists := srv.factories[path]; exists {
		return &duplicateRegistrationError{path: path}
	}
	srv.factories[path] = f
	return nil
}

// ServerConn is one transport bound to a Server's responder registry.
type ServerConn struct {
	d *dispatcher
}

// Close tears down the underlying transport and stops routing for it.
func (sc *ServerConn) Close() error { return sc.d.close() }

// Serve binds tr to a fresh dispatcher carrying every path registered on
// srv so far, and returns the bound connection so the caller can later
// Close it. Unknown paths on this transport get an immediate UNIMPLEMENTED
// trailer (§4.7).
func (srv *Server) Serve(tr transport.Transport) *ServerConn {
	d := newDispatcher(tr, srv.logger)

	srv.mu.Lock()
	defer srv.mu.Unlock()

	for path, f := range srv.factories {
		factory := f
		// registerResponder cannot fail here: each dispatcher starts empty.
		_ = d.registerResponder(path, func(streamID uint64) inboundSink {
			return factory(d, streamID)
		})
	}

	return &ServerConn{d: d}
}
