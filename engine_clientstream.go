package streamrpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamrpc/streamrpc/codec"
)

// ClientStreamHandler is a server-side client-streaming responder (§4.6): it
// drains the request sequence and yields exactly one response.
type ClientStreamHandler[Req, Resp any] func(ctx context.Context, requests <-chan Req) (Resp, error)

// ClientStreamCall is the caller-side handle for a client-streaming call
// (§4.6 ClientStream/Caller): Send zero or more requests, then CloseAndRecv
// to half-close and await the single response.
type ClientStreamCall[Req, Resp any] struct {
	cp     *callProcessor[Req, Resp]
	ctx    context.Context
	cancel context.CancelFunc
	co     *callOptions
}

// NewClientStreamCall opens a client-streaming call against path. A Go
// function rather than a ClientConn method, since Go methods cannot carry
// their own type parameters.
func NewClientStreamCall[Req, Resp any](
	ctx context.Context,
	cc *ClientConn,
	path string,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	opts ...CallOption,
) (*ClientStreamCall[Req, Resp], error) {
	co := applyCallOptions(cc.opts.defaultCallOptions, opts)

	ctx, cancel := withCallTimeout(ctx, co)

	streamID := cc.ids.Next()
	cp, err := newCallProcessor[Req, Resp](
		ctx, cc.tr, cc.disp, streamID, path, ClientStream, reqCodec, respCodec,
		cc.logger, cc.opts.maxInboundQueue, co.extraHeaders(),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	return &ClientStreamCall[Req, Resp]{cp: cp, ctx: ctx, cancel: cancel, co: co}, nil
}

// Send writes one request. Valid until CloseAndRecv is called.
func (c *ClientStreamCall[Req, Resp]) Send(req Req) error {
	return c.cp.send(c.ctx, req)
}

// CloseAndRecv half-closes the request direction and blocks for the single
// response and trailer (§4.6). Always tears down the call's resources.
func (c *ClientStreamCall[Req, Resp]) CloseAndRecv() (Resp, error) {
	var zero Resp
	defer c.cancel()
	defer c.cp.close()

	if err := c.cp.finishSending(c.ctx); err != nil {
		return zero, err
	}

	var (
		resp       Resp
		gotPayload bool
	)

	for {
		select {
		case msg, ok := <-c.cp.responsesCh():
			if !ok {
				if err := c.cp.err(); err != nil {
					return zero, err
				}
				if !gotPayload {
					return zero, status.New(codes.Internal, "streamrpc: client-stream call completed OK with no response").Err()
				}
				if c.co.header != nil {
					*c.co.header = c.cp.headerMD()
				}
				if c.co.trailer != nil {
					*c.co.trailer = c.cp.trailerMD()
				}
				return resp, nil
			}
			switch msg.Kind {
			case MetadataMsg:
				c.cp.rememberHeader(msg.Metadata)
			case PayloadMsg:
				if gotPayload {
					return zero, (&ProtocolError{Kind: ExtraResponsePayload}).Status().Err()
				}
				resp = msg.Payload
				gotPayload = true
			}
		case <-c.ctx.Done():
			return zero, ctxErrStatus(c.ctx)
		}
	}
}

// RegisterClientStream registers a client-streaming responder at path on
// srv (§4.6 ClientStream/Responder).
func RegisterClientStream[Req, Resp any](
	srv *Server,
	path string,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	handler ClientStreamHandler[Req, Resp],
) error {
	return srv.register(path, func(d *dispatcher, streamID uint64) inboundSink {
		sp := newStreamProcessor[Req, Resp](d.tr, d, streamID, path, ClientStream, reqCodec, respCodec, srv.logger, srv.opts.maxInboundQueue)
		go runClientStreamResponder(sp, handler)
		return sp
	})
}

func runClientStreamResponder[Req, Resp any](sp *streamProcessor[Req, Resp], handler ClientStreamHandler[Req, Resp]) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			_ = sp.sendError(ctx, handlerError(r))
		}
	}()

	resp, err := handler(ctx, sp.requestsCh())
	if err != nil {
		_ = sp.sendError(ctx, handlerError(err))
		return
	}
	if err := sp.send(ctx, resp); err != nil {
		return
	}
	_ = sp.finishSending(ctx)
}
