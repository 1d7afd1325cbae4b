package streamrpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamrpc/streamrpc/codec"
)

// UnaryHandler is a server-side unary responder (§4.6). A non-nil error
// (or a panic, recovered by the engine) becomes an INTERNAL trailer
// carrying the error's display string (§4.8), unless the error carries a
// gRPC status, whose code and message are sent as they are.
type UnaryHandler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// CallUnary performs one Unary call (§4.6 Unary/Caller): sends exactly one
// request frame, closes the send direction, and awaits exactly one Payload
// followed by the Trailer. A Go function (not a ClientConn method) because
// Go methods cannot carry their own type parameters.
func CallUnary[Req, Resp any](
	ctx context.Context,
	cc *ClientConn,
	path string,
	req Req,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	opts ...CallOption,
) (Resp, error) {
	var zero Resp

	co := applyCallOptions(cc.opts.defaultCallOptions, opts)

	ctx, cancel := withCallTimeout(ctx, co)
	defer cancel()

	streamID := cc.ids.Next()
	cp, err := newCallProcessor[Req, Resp](
		ctx, cc.tr, cc.disp, streamID, path, Unary, reqCodec, respCodec,
		cc.logger, cc.opts.maxInboundQueue, co.extraHeaders(),
	)
	if err != nil {
		return zero, err
	}
	defer cp.close()

	if err := cp.send(ctx, req); err != nil {
		return zero, err
	}
	if err := cp.finishSending(ctx); err != nil {
		return zero, err
	}

	var (
		resp       Resp
		gotPayload bool
	)

	for {
		select {
		case msg, ok := <-cp.responsesCh():
			if !ok {
				if err := cp.err(); err != nil {
					return zero, err
				}
				if !gotPayload {
					return zero, status.New(codes.Internal, "streamrpc: unary call completed OK with no response").Err()
				}
				if co.header != nil {
					*co.header = cp.headerMD()
				}
				if co.trailer != nil {
					*co.trailer = cp.trailerMD()
				}
				return resp, nil
			}
			switch msg.Kind {
			case MetadataMsg:
				cp.rememberHeader(msg.Metadata)
			case PayloadMsg:
				if gotPayload {
					return zero, (&ProtocolError{Kind: ExtraResponsePayload}).Status().Err()
				}
				resp = msg.Payload
				gotPayload = true
			}
		case <-ctx.Done():
			return zero, ctxErrStatus(ctx)
		}
	}
}

// RegisterUnary registers a Unary responder at path on srv (§4.6
// Unary/Responder). Registering the same path twice fails immediately.
func RegisterUnary[Req, Resp any](
	srv *Server,
	path string,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	handler UnaryHandler[Req, Resp],
) error {
	return srv.register(path, func(d *dispatcher, streamID uint64) inboundSink {
		sp := newStreamProcessor[Req, Resp](d.tr, d, streamID, path, Unary, reqCodec, respCodec, srv.logger, srv.opts.maxInboundQueue)
		go runUnaryResponder(sp, handler)
		return sp
	})
}

func runUnaryResponder[Req, Resp any](sp *streamProcessor[Req, Resp], handler UnaryHandler[Req, Resp]) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			_ = sp.sendError(ctx, handlerError(r))
		}
	}()

	req, ok := <-sp.requestsCh()
	if !ok {
		if err := sp.requestsErr(); err != nil {
			// Cancelled before sending a request: nothing to respond to.
			return
		}
		_ = sp.sendError(ctx, status.New(codes.InvalidArgument, "streamrpc: expected exactly one request"))
		return
	}

	// A second request before the trailer is INVALID_ARGUMENT (§4.6).
	for extra := range sp.requestsCh() {
		_ = extra
		_ = sp.sendError(ctx, (&ProtocolError{Kind: ExtraRequestInUnary}).Status())
		return
	}
	if err := sp.requestsErr(); err != nil {
		return
	}

	resp, err := handler(ctx, req)
	if err != nil {
		_ = sp.sendError(ctx, handlerError(err))
		return
	}
	if err := sp.send(ctx, resp); err != nil {
		return
	}
	_ = sp.finishSending(ctx)
}
