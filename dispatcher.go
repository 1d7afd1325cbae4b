package streamrpc

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/rpclog"
	"github.com/streamrpc/streamrpc/transport"
)

// inboundSink is implemented by both client- and server-side processors so
// the dispatcher can hand them inbound transport.Message values without
// knowing their generic instantiation (§4.7).
type inboundSink interface {
	deliver(msg transport.Message)
	abort(err error)
}

// serverFactory constructs a server-side processor bound to streamID the
// first time a matching InitialRequest metadata message arrives.
type serverFactory func(streamID uint64) inboundSink

// dispatcher demultiplexes one transport's incoming messages by stream id
// (§4.7). Exactly one goroutine (run) reads transport.Incoming, routes every
// message and creates server-side processors; this is the "one logical
// execution context per endpoint" from §5. The processor maps are not
// mutated from run alone: processors add and remove their own entries from
// their own goroutines, and every access goes through mu.
type dispatcher struct {
	tr     transport.Transport
	logger *rpclog.Logger

	mu        sync.Mutex
	clients   map[uint64]inboundSink
	responder map[uint64]inboundSink
	factories map[string]serverFactory

	closed atomic.Bool
	stopCh chan struct{}
}

func newDispatcher(tr transport.Transport, logger *rpclog.Logger) *dispatcher {
	if logger == nil {
		logger = rpclog.Nop()
	}
	d := &dispatcher{
		tr:        tr,
		logger:    logger,
		clients:   make(map[uint64]inboundSink),
		responder: make(map[uint64]inboundSink),
		factories: make(map[string]serverFactory),
		stopCh:    make(chan struct{}),
	}
	go d.run()
	return d
}

// registerResponder binds path to factory. Registering the same path twice
// fails at setup time (§4.7 tie-break).
func (d *dispatcher) registerResponder(path string, f serverFactory) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.factories[path]; exists {
		return &duplicateRegistrationError{path: path}
	}
	d.factories[path] = f
	return nil
}

type duplicateRegistrationError struct{ path string }

func (e *duplicateRegistrationError) Error() string {
	return "streamrpc: responder already registered for " + e.path
}

func (d *dispatcher) addClient(id uint64, sink inboundSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[id] = sink
}

func (d *dispatcher) removeClient(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clients, id)
}

func (d *dispatcher) removeResponder(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.responder, id)
}

func (d *dispatcher) run() {
	defer close(d.stopCh)

	for msg := range d.tr.Incoming() {
		d.route(msg)
	}

	// Transport closed: abort every live processor so consumers observe
	// UNAVAILABLE instead of hanging forever.
	d.mu.Lock()
	clients := d.clients
	responder := d.responder
	d.clients = make(map[uint64]inboundSink)
	d.responder = make(map[uint64]inboundSink)
	d.mu.Unlock()

	for _, s := range clients {
		s.abort(transport.ErrTransportUnavailable)
	}
	for _, s := range responder {
		s.abort(transport.ErrTransportUnavailable)
	}
}

func (d *dispatcher) route(msg transport.Message) {
	d.mu.Lock()
	if sink, ok := d.clients[msg.StreamID]; ok {
		d.mu.Unlock()
		sink.deliver(msg)
		return
	}
	if sink, ok := d.responder[msg.StreamID]; ok {
		d.mu.Unlock()
		sink.deliver(msg)
		return
	}

	if msg.Kind == transport.KindMetadata && msg.Metadata.Flavor == metadata.InitialRequest {
		path := msg.Metadata.GetHeaderValue(metadata.KeyPath)
		factory, ok := d.factories[path]
		if !ok {
			d.mu.Unlock()
			d.replyUnimplemented(msg.StreamID, path)
			return
		}

		sink := factory(msg.StreamID)
		d.responder[msg.StreamID] = sink
		d.mu.Unlock()
		sink.deliver(msg)
		return
	}
	d.mu.Unlock()

	// Unknown-stream policy is lenient: the peer may have raced a cancel.
	d.logger.Warn("streamrpc: dropping message for unknown stream",
		zap.Uint64("stream_id", msg.StreamID), zap.Int("kind", int(msg.Kind)))
}

func (d *dispatcher) replyUnimplemented(streamID uint64, path string) {
	trailer := methodNotFoundTrailer()
	if err := d.tr.SendMetadata(noopContext(), streamID, trailer, true); err != nil {
		d.logger.Warn("streamrpc: failed to send UNIMPLEMENTED trailer",
			zap.Uint64("stream_id", streamID), zap.String("path", path), zap.Error(err))
	}
}

// close shuts the dispatcher's transport down and waits for run to drain.
func (d *dispatcher) close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := d.tr.Close()
	<-d.stopCh
	return err
}
