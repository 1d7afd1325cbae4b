package streamrpc

import (
	"context"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamrpc/streamrpc/codec"
)

// ServerStreamHandler is a server-side server-streaming responder (§4.6): it
// receives the single request and pushes zero or more responses onto send.
type ServerStreamHandler[Req, Resp any] func(ctx context.Context, req Req, send func(Resp) error) error

// ServerStreamCall is the caller-side handle for a server-streaming call
// (§4.6 ServerStream/Caller): the single request was already sent by
// NewServerStreamCall; Recv yields responses until io.EOF.
type ServerStreamCall[Req, Resp any] struct {
	cp     *callProcessor[Req, Resp]
	ctx    context.Context
	cancel context.CancelFunc
	co     *callOptions
}

// NewServerStreamCall opens a server-streaming call against path, sending
// req and closing the request direction immediately (exactly one request,
// §4.6).
func NewServerStreamCall[Req, Resp any](
	ctx context.Context,
	cc *ClientConn,
	path string,
	req Req,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	opts ...CallOption,
) (*ServerStreamCall[Req, Resp], error) {
	co := applyCallOptions(cc.opts.defaultCallOptions, opts)

	ctx, cancel := withCallTimeout(ctx, co)

	streamID := cc.ids.Next()
	cp, err := newCallProcessor[Req, Resp](
		ctx, cc.tr, cc.disp, streamID, path, ServerStream, reqCodec, respCodec,
		cc.logger, cc.opts.maxInboundQueue, co.extraHeaders(),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	if err := cp.send(ctx, req); err != nil {
		cancel()
		cp.close()
		return nil, err
	}
	if err := cp.finishSending(ctx); err != nil {
		cancel()
		cp.close()
		return nil, err
	}

	return &ServerStreamCall[Req, Resp]{cp: cp, ctx: ctx, cancel: cancel, co: co}, nil
}

// Recv returns the next response, io.EOF once the trailer reports OK, or the
// classified error otherwise (§7).
func (c *ServerStreamCall[Req, Resp]) Recv() (Resp, error) {
	var zero Resp
	for {
		select {
		case msg, ok := <-c.cp.responsesCh():
			if !ok {
				if c.co.trailer != nil {
					*c.co.trailer = c.cp.trailerMD()
				}
				if err := c.cp.err(); err != nil {
					return zero, err
				}
				return zero, io.EOF
			}
			switch msg.Kind {
			case MetadataMsg:
				c.cp.rememberHeader(msg.Metadata)
				if c.co.header != nil {
					*c.co.header = c.cp.headerMD()
				}
			case PayloadMsg:
				return msg.Payload, nil
			}
		case <-c.ctx.Done():
			return zero, ctxErrStatus(c.ctx)
		}
	}
}

// Close releases the call's resources. Safe to call after Recv returns
// io.EOF or any error; idempotent.
func (c *ServerStreamCall[Req, Resp]) Close() {
	c.cancel()
	c.cp.close()
}

// RegisterServerStream registers a server-streaming responder at path on
// srv (§4.6 ServerStream/Responder).
func RegisterServerStream[Req, Resp any](
	srv *Server,
	path string,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	handler ServerStreamHandler[Req, Resp],
) error {
	return srv.register(path, func(d *dispatcher, streamID uint64) inboundSink {
		sp := newStreamProcessor[Req, Resp](d.tr, d, streamID, path, ServerStream, reqCodec, respCodec, srv.logger, srv.opts.maxInboundQueue)
		go runServerStreamResponder(sp, handler)
		return sp
	})
}

func runServerStreamResponder[Req, Resp any](sp *streamProcessor[Req, Resp], handler ServerStreamHandler[Req, Resp]) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			_ = sp.sendError(ctx, handlerError(r))
		}
	}()

	req, ok := <-sp.requestsCh()
	if !ok {
		if err := sp.requestsErr(); err != nil {
			return
		}
		_ = sp.sendError(ctx, status.New(codes.InvalidArgument, "streamrpc: expected exactly one request"))
		return
	}

	for extra := range sp.requestsCh() {
		_ = extra
		_ = sp.sendError(ctx, (&ProtocolError{Kind: ExtraRequestInUnary}).Status())
		return
	}
	if err := sp.requestsErr(); err != nil {
		return
	}

	if err := handler(ctx, req, func(resp Resp) error { return sp.send(ctx, resp) }); err != nil {
		_ = sp.sendError(ctx, handlerError(err))
		return
	}
	_ = sp.finishSending(ctx)
}
