package streamrpc

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamrpc/streamrpc/codec"
	"github.com/streamrpc/streamrpc/frame"
	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/rpclog"
	"github.com/streamrpc/streamrpc/transport"
)

// sendPhase mirrors the sending-side state machine from §3:
// Idle -> HeadersSent -> Streaming -> TrailerSent -> Closed.
type sendPhase int32

const (
	sendIdle sendPhase = iota
	sendHeadersSent
	sendTrailerSent
)

// streamProcessor is the per-call server-side state machine (§4.5). The
// dispatcher creates one when a new streamID is observed carrying an
// InitialRequest metadata whose :path matches a registered responder.
type streamProcessor[Req, Resp any] struct {
	tr       transport.Transport
	dispatch *dispatcher
	logger   *rpclog.Logger

	streamID uint64
	path     string
	kind     CallKind

	reqCodec  codec.Codec[Req]
	respCodec codec.Codec[Resp]

	parser *frame.Parser
	inbox  chan transport.Message
	done   chan struct{}

	requests chan Req
	reqDone  atomic.Bool
	reqErr   error

	sendPhase      atomic.Int32
	sentCount      atomic.Int32
	headersOnce    sync.Once
	headersErr     error
	trailerMu      sync.Mutex
	trailerWritten bool
}

func newStreamProcessor[Req, Resp any](
	tr transport.Transport,
	d *dispatcher,
	streamID uint64,
	path string,
	kind CallKind,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	logger *rpclog.Logger,
	maxInboundQueue int,
) *streamProcessor[Req, Resp] {
	if logger == nil {
		logger = rpclog.Nop()
	}
	if maxInboundQueue <= 0 {
		maxInboundQueue = defaultInboundQueueSize
	}

	sp := &streamProcessor[Req, Resp]{
		tr:        tr,
		dispatch:  d,
		logger:    logger,
		streamID:  streamID,
		path:      path,
		kind:      kind,
		reqCodec:  reqCodec,
		respCodec: respCodec,
		parser:    frame.NewParser(0),
		inbox:     make(chan transport.Message, maxInboundQueue),
		done:      make(chan struct{}),
		requests:  make(chan Req, maxInboundQueue),
	}

	go sp.pump()

	return sp
}

func (sp *streamProcessor[Req, Resp]) requestsCh() <-chan Req { return sp.requests }

func (sp *streamProcessor[Req, Resp]) requestsErr() error { return sp.reqErr }

// sendInitialHeaders sends InitialResponse metadata if it hasn't been sent
// yet (§4.5: auto-sent on first outbound message, or callable explicitly).
func (sp *streamProcessor[Req, Resp]) sendInitialHeaders(ctx context.Context) error {
	sp.headersOnce.Do(func() {
		sp.sendPhase.Store(int32(sendHeadersSent))
		if err := sp.tr.SendMetadata(ctx, sp.streamID, metadata.ForServerInitialResponse(), false); err != nil {
			sp.headersErr = status.New(codes.Unavailable, "streamrpc: failed to send initial headers: "+err.Error()).Err()
		}
	})
	return sp.headersErr
}

// send implicitly sends headers first, then one response frame. After the
// trailer, it is a no-op returning ClosedStream (§4.5 invariant).
func (sp *streamProcessor[Req, Resp]) send(ctx context.Context, resp Resp) error {
	if sp.isClosed() {
		return ErrClosedStream
	}
	if !sp.kind.serverMayStreamResponses() && sp.sentCount.Load() >= 1 {
		return (&ProtocolError{Kind: ExtraResponsePayload}).Status().Err()
	}
	sp.sentCount.Inc()
	if err := sp.sendInitialHeaders(ctx); err != nil {
		return err
	}

	payload, err := sp.respCodec.Serialize(resp)
	if err != nil {
		return status.New(codes.Internal, "streamrpc: response encoding failed: "+err.Error()).Err()
	}

	if err := sp.tr.SendMessage(ctx, sp.streamID, frame.Encode(payload)); err != nil {
		return status.New(codes.Unavailable, "streamrpc: send failed: "+err.Error()).Err()
	}
	return nil
}

// finishSending sends the OK trailer. Mutually exclusive with sendError;
// both are terminal (§4.5 invariant).
func (sp *streamProcessor[Req, Resp]) finishSending(ctx context.Context) error {
	return sp.sendTrailer(ctx, status.New(codes.OK, ""))
}

// sendError sends a non-OK trailer carrying st. Terminal.
func (sp *streamProcessor[Req, Resp]) sendError(ctx context.Context, st *status.Status) error {
	return sp.sendTrailer(ctx, st)
}

func (sp *streamProcessor[Req, Resp]) sendTrailer(ctx context.Context, st *status.Status) error {
	sp.trailerMu.Lock()
	if sp.trailerWritten {
		sp.trailerMu.Unlock()
		return ErrClosedStream
	}
	sp.trailerWritten = true
	sp.trailerMu.Unlock()

	// send* before sendInitialHeaders implicitly sends headers first.
	_ = sp.sendInitialHeaders(ctx)
	sp.sendPhase.Store(int32(sendTrailerSent))

	err := sp.tr.SendMetadata(ctx, sp.streamID, metadata.ForTrailerStatus(st), true)
	sp.dispatch.removeResponder(sp.streamID)
	sp.logger.Debug("streamrpc: stream finished", zap.Uint64("stream_id", sp.streamID),
		zap.String("path", sp.path), zap.String("code", st.Code().String()))
	if err != nil {
		return status.New(codes.Unavailable, "streamrpc: failed to send trailer: "+err.Error()).Err()
	}
	return nil
}

func (sp *streamProcessor[Req, Resp]) isClosed() bool {
	sp.trailerMu.Lock()
	defer sp.trailerMu.Unlock()
	return sp.trailerWritten
}

// deliver is called exclusively from the dispatcher's goroutine.
func (sp *streamProcessor[Req, Resp]) deliver(msg transport.Message) {
	select {
	case sp.inbox <- msg:
	default:
		sp.closeRequests(status.New(codes.ResourceExhausted, "streamrpc: inbound queue overflow").Err())
	}
}

func (sp *streamProcessor[Req, Resp]) abort(_ error) {
	sp.closeRequests(status.New(codes.Unavailable, "streamrpc: transport closed").Err())
}

// pump is the stream's single reader goroutine. It exits once closeRequests
// has run, whether triggered inline (a half-close arriving through this same
// goroutine) or from elsewhere (abort, inbound overflow) — sp.done is closed
// exactly once by closeRequests, so a blocked receive on an empty,
// never-closed inbox can't strand this goroutine past the stream's lifetime.
func (sp *streamProcessor[Req, Resp]) pump() {
	for {
		select {
		case msg, ok := <-sp.inbox:
			if !ok {
				return
			}
			if sp.reqDone.Load() {
				return
			}

			switch msg.Kind {
			case transport.KindMetadata:
				sp.handleMetadata(msg)
			case transport.KindPayload:
				sp.handlePayload(msg)
			}
		case <-sp.done:
			return
		}
	}
}

func (sp *streamProcessor[Req, Resp]) handleMetadata(msg transport.Message) {
	if !msg.EndStream {
		// The InitialRequest metadata that made the dispatcher create this
		// processor is forwarded here first; it carries no request data and
		// is ignored. Any later non-endStream metadata is ignored as well.
		return
	}

	// endStream on Metadata marks the client done sending (§9 resolution).
	// If it also carries grpc-status, the client is notifying a local
	// cancellation rather than a clean half-close.
	if st, err := msg.Metadata.Status(); err == nil && st.Code() != codes.OK {
		sp.closeRequests(&RpcStatusError{Status: st})
		return
	}
	sp.closeRequests(nil)
}

func (sp *streamProcessor[Req, Resp]) handlePayload(msg transport.Message) {
	frames, err := sp.parser.Feed(msg.Payload)
	if err != nil {
		sp.closeRequests(status.New(codes.Internal, "streamrpc: "+err.Error()).Err())
		return
	}

	for _, f := range frames {
		v, err := sp.reqCodec.Deserialize(f)
		if err != nil {
			sp.closeRequests(status.New(codes.Internal, "streamrpc: request decoding failed: "+err.Error()).Err())
			return
		}
		select {
		case sp.requests <- v:
		default:
			sp.closeRequests(status.New(codes.ResourceExhausted, "streamrpc: request queue overflow").Err())
			return
		}
	}
}

func (sp *streamProcessor[Req, Resp]) closeRequests(err error) {
	if !sp.reqDone.CompareAndSwap(false, true) {
		return
	}
	sp.reqErr = err
	close(sp.requests)
	close(sp.done)
}
