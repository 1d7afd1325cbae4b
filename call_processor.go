package streamrpc

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcmd "google.golang.org/grpc/metadata"

	"github.com/streamrpc/streamrpc/codec"
	"github.com/streamrpc/streamrpc/frame"
	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/rpclog"
	"github.com/streamrpc/streamrpc/transport"
)

// recvPhase mirrors the receiving-side state machine from §3:
// AwaitingHeaders -> AwaitingPayloads -> AwaitingTrailer(implicit) -> Closed.
type recvPhase int32

const (
	awaitingHeaders recvPhase = iota
	awaitingPayloads
	recvClosed
)

// callProcessor is the per-call client-side state machine (§4.4). It is
// exclusively owned by the pattern engine that created it.
type callProcessor[Req, Resp any] struct {
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

	responses chan CallMessage[Resp]

	recvPhase  atomic.Int32
	sendClosed atomic.Bool
	sentCount  atomic.Int32
	closeOnce  sync.Once
	finalMu    sync.Mutex
	finalErr   error

	headerMu sync.RWMutex
	header   metadata.Metadata

	trailerMu sync.RWMutex
	trailer   metadata.Metadata

	maxInboundQueue int
}

// rememberHeader records the InitialResponse metadata so CallOption's
// Header() out-param can be populated once the call completes.
func (cp *callProcessor[Req, Resp]) rememberHeader(m metadata.Metadata) {
	cp.headerMu.Lock()
	cp.header = m
	cp.headerMu.Unlock()
}

func (cp *callProcessor[Req, Resp]) headerMD() grpcmd.MD {
	cp.headerMu.RLock()
	defer cp.headerMu.RUnlock()
	return cp.header.MD
}

// rememberTrailer records the Trailer metadata so CallOption's Trailer()
// out-param can be populated once the call completes.
func (cp *callProcessor[Req, Resp]) rememberTrailer(m metadata.Metadata) {
	cp.trailerMu.Lock()
	cp.trailer = m
	cp.trailerMu.Unlock()
}

func (cp *callProcessor[Req, Resp]) trailerMD() grpcmd.MD {
	cp.trailerMu.RLock()
	defer cp.trailerMu.RUnlock()
	return cp.trailer.MD
}

// newCallProcessor constructs the processor, registers it with the
// dispatcher, and sends the InitialRequest metadata (§4.4's
// construction-time contract).
func newCallProcessor[Req, Resp any](
	ctx context.Context,
	tr transport.Transport,
	d *dispatcher,
	streamID uint64,
	path string,
	kind CallKind,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	logger *rpclog.Logger,
	maxInboundQueue int,
	extraHeaders ...grpcmd.MD,
) (*callProcessor[Req, Resp], error) {
	if logger == nil {
		logger = rpclog.Nop()
	}
	if maxInboundQueue <= 0 {
		maxInboundQueue = defaultInboundQueueSize
	}

	cp := &callProcessor[Req, Resp]{
		tr:              tr,
		dispatch:        d,
		logger:          logger,
		streamID:        streamID,
		path:            path,
		kind:            kind,
		reqCodec:        reqCodec,
		respCodec:       respCodec,
		parser:          frame.NewParser(0),
		inbox:           make(chan transport.Message, maxInboundQueue),
		done:            make(chan struct{}),
		responses:       make(chan CallMessage[Resp], maxInboundQueue),
		maxInboundQueue: maxInboundQueue,
	}

	d.addClient(streamID, cp)

	if err := tr.SendMetadata(ctx, streamID, metadata.ForClientInitial(path, extraHeaders...), false); err != nil {
		d.removeClient(streamID)
		cp.finish(status.New(codes.Unavailable, "streamrpc: failed to send initial metadata: "+err.Error()))
		return cp, err
	}

	go cp.pump()

	return cp, nil
}

// send serializes, frames, and writes one request message. It rejects once
// the send direction has been closed (TrailerSent-equivalent, §4.4).
func (cp *callProcessor[Req, Resp]) send(ctx context.Context, req Req) error {
	if cp.sendClosed.Load() {
		return ErrClosedStream
	}
	if !cp.kind.clientMayStreamRequests() && cp.sentCount.Load() >= 1 {
		return (&ProtocolError{Kind: ExtraRequestInUnary}).Status().Err()
	}
	cp.sentCount.Inc()

	payload, err := cp.reqCodec.Serialize(req)
	if err != nil {
		return status.New(codes.Internal, "streamrpc: request encoding failed: "+err.Error()).Err()
	}

	if err := cp.tr.SendMessage(ctx, cp.streamID, frame.Encode(payload)); err != nil {
		return status.New(codes.Unavailable, "streamrpc: send failed: "+err.Error()).Err()
	}
	return nil
}

// finishSending closes the request direction (§4.4). Idempotent.
func (cp *callProcessor[Req, Resp]) finishSending(ctx context.Context) error {
	if !cp.sendClosed.CompareAndSwap(false, true) {
		return nil
	}
	if err := cp.tr.SendMetadata(ctx, cp.streamID, metadata.ForHalfClose(), true); err != nil {
		return status.New(codes.Unavailable, "streamrpc: finishSending failed: "+err.Error()).Err()
	}
	return nil
}

// responsesCh exposes the response sequence as a channel (the Go rendering
// of the spec's LazySequence<CallMessage<R>>, §4.4). It is closed once the
// Trailer has been processed; err() then reports the terminal status.
func (cp *callProcessor[Req, Resp]) responsesCh() <-chan CallMessage[Resp] { return cp.responses }

func (cp *callProcessor[Req, Resp]) err() error {
	cp.finalMu.Lock()
	defer cp.finalMu.Unlock()
	return cp.finalErr
}

// close cancels the subscription. If the call hasn't completed, the
// consumer observes a local CANCELLED status and a best-effort cancel
// metadata is sent. Idempotent (invariant 6).
func (cp *callProcessor[Req, Resp]) close() {
	cp.closeOnce.Do(func() {
		if recvPhase(cp.recvPhase.Load()) != recvClosed {
			_ = cp.tr.SendMetadata(noopContext(), cp.streamID, metadata.ForCancel("client closed the call"), true)
		}
		cp.finish(status.New(codes.Canceled, "streamrpc: call cancelled by caller"))
	})
}

// deliver is called exclusively from the dispatcher's goroutine (§4.7/§5).
func (cp *callProcessor[Req, Resp]) deliver(msg transport.Message) {
	select {
	case cp.inbox <- msg:
	default:
		// Inbound queue overflow: surface RESOURCE_EXHAUSTED rather than
		// blocking the dispatcher's single goroutine for every stream.
		cp.finish(status.New(codes.ResourceExhausted, "streamrpc: inbound queue overflow"))
	}
}

// abort is called by the dispatcher when the underlying transport has
// gone away.
func (cp *callProcessor[Req, Resp]) abort(_ error) {
	cp.finish(status.New(codes.Unavailable, "streamrpc: transport closed"))
}

// pump is the processor's single reader goroutine: it owns the frame
// parser and decides how each inbound transport.Message maps onto the
// client-visible response sequence. It exits once finish has run,
// whether that happens inline (a Trailer arriving through this same
// goroutine) or from elsewhere (abort, close) — cp.done is closed exactly
// once by finish, so a blocked receive on an empty, never-closed inbox
// can't strand this goroutine past the call's lifetime.
func (cp *callProcessor[Req, Resp]) pump() {
	for {
		select {
		case msg, ok := <-cp.inbox:
			if !ok {
				return
			}
			if recvPhase(cp.recvPhase.Load()) == recvClosed {
				return
			}

			switch msg.Kind {
			case transport.KindMetadata:
				cp.handleMetadata(msg)
			case transport.KindPayload:
				cp.handlePayload(msg)
			}
		case <-cp.done:
			return
		}
	}
}

func (cp *callProcessor[Req, Resp]) handleMetadata(msg transport.Message) {
	if msg.EndStream {
		// This is the call's Trailer (§3: trailers always carry
		// grpc-status on the direction that terminates a call).
		st, err := msg.Metadata.Status()
		if err != nil {
			cp.finish(status.New(codes.Internal, "streamrpc: "+TrailerMissingStatus.String()))
			return
		}
		if recvPhase(cp.recvPhase.Load()) == awaitingHeaders {
			cp.deliverMsg(CallMessage[Resp]{Kind: MetadataMsg, Metadata: msg.Metadata})
		}
		cp.rememberTrailer(msg.Metadata)
		cp.finish(st)
		return
	}

	if recvPhase(cp.recvPhase.Load()) != awaitingHeaders {
		cp.finish((&ProtocolError{Kind: DuplicateHeaders}).Status())
		return
	}
	cp.recvPhase.Store(int32(awaitingPayloads))
	cp.deliverMsg(CallMessage[Resp]{Kind: MetadataMsg, Metadata: msg.Metadata})
}

func (cp *callProcessor[Req, Resp]) handlePayload(msg transport.Message) {
	if recvPhase(cp.recvPhase.Load()) == awaitingHeaders {
		cp.finish((&ProtocolError{Kind: PayloadBeforeHeaders}).Status())
		return
	}

	frames, err := cp.parser.Feed(msg.Payload)
	if err != nil {
		cp.finish(status.New(codes.Internal, "streamrpc: "+err.Error()))
		return
	}

	for _, f := range frames {
		v, err := cp.respCodec.Deserialize(f)
		if err != nil {
			cp.finish(status.New(codes.Internal, "streamrpc: response decoding failed: "+err.Error()))
			return
		}
		cp.deliverMsg(CallMessage[Resp]{Kind: PayloadMsg, Payload: v})
	}
}

func (cp *callProcessor[Req, Resp]) deliverMsg(m CallMessage[Resp]) {
	select {
	case cp.responses <- m:
	default:
		cp.finish(status.New(codes.ResourceExhausted, "streamrpc: response queue overflow"))
	}
}

// finish is the one path to terminal state: records the status, closes the
// response channel exactly once, deregisters from the dispatcher, and
// unblocks the reader goroutine.
func (cp *callProcessor[Req, Resp]) finish(st *status.Status) {
	if !cp.recvPhase.CompareAndSwap(int32(awaitingHeaders), int32(recvClosed)) &&
		!cp.recvPhase.CompareAndSwap(int32(awaitingPayloads), int32(recvClosed)) {
		return
	}

	cp.finalMu.Lock()
	cp.finalErr = newRPCStatusError(st)
	cp.finalMu.Unlock()

	close(cp.responses)
	close(cp.done)
	cp.dispatch.removeClient(cp.streamID)
	cp.logger.Debug("streamrpc: call finished", zap.Uint64("stream_id", cp.streamID),
		zap.String("path", cp.path), zap.String("code", st.Code().String()))
}

const defaultInboundQueueSize = 64
