package streamrpc

import (
	"context"
	"io"

	"github.com/streamrpc/streamrpc/codec"
)

// BidiHandler is a server-side bidirectional-streaming responder (§4.6): it
// owns the request sequence and the send func concurrently, for the
// lifetime of the stream.
type BidiHandler[Req, Resp any] func(ctx context.Context, requests <-chan Req, send func(Resp) error) error

// BidiCall is the caller-side handle for a bidirectional-streaming call
// (§4.6 Bidi/Caller): Send and Recv may be driven concurrently from separate
// goroutines, same as the teacher's Stream type.
type BidiCall[Req, Resp any] struct {
	cp     *callProcessor[Req, Resp]
	ctx    context.Context
	cancel context.CancelFunc
	co     *callOptions
}

// NewBidiCall opens a bidirectional-streaming call against path.
func NewBidiCall[Req, Resp any](
	ctx context.Context,
	cc *ClientConn,
	path string,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	opts ...CallOption,
) (*BidiCall[Req, Resp], error) {
	co := applyCallOptions(cc.opts.defaultCallOptions, opts)

	ctx, cancel := withCallTimeout(ctx, co)

	streamID := cc.ids.Next()
	cp, err := newCallProcessor[Req, Resp](
		ctx, cc.tr, cc.disp, streamID, path, Bidi, reqCodec, respCodec,
		cc.logger, cc.opts.maxInboundQueue, co.extraHeaders(),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	return &BidiCall[Req, Resp]{cp: cp, ctx: ctx, cancel: cancel, co: co}, nil
}

// Send writes one request. Safe to call concurrently with Recv, not with
// itself (matches the underlying transport.Transport's single-writer
// expectation, §4.2).
func (c *BidiCall[Req, Resp]) Send(req Req) error {
	return c.cp.send(c.ctx, req)
}

// CloseSend half-closes the request direction without awaiting the
// response sequence to drain.
func (c *BidiCall[Req, Resp]) CloseSend() error {
	return c.cp.finishSending(c.ctx)
}

// Recv returns the next response, io.EOF once the trailer reports OK, or
// the classified error otherwise (§7). Safe to call concurrently with Send.
func (c *BidiCall[Req, Resp]) Recv() (Resp, error) {
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

// Close releases the call's resources. Idempotent.
func (c *BidiCall[Req, Resp]) Close() {
	c.cancel()
	c.cp.close()
}

// RegisterBidi registers a bidirectional-streaming responder at path on srv
// (§4.6 Bidi/Responder).
func RegisterBidi[Req, Resp any](
	srv *Server,
	path string,
	reqCodec codec.Codec[Req],
	respCodec codec.Codec[Resp],
	handler BidiHandler[Req, Resp],
) error {
	return srv.register(path, func(d *dispatcher, streamID uint64) inboundSink {
		sp := newStreamProcessor[Req, Resp](d.tr, d, streamID, path, Bidi, reqCodec, respCodec, srv.logger, srv.opts.maxInboundQueue)
		go runBidiResponder(sp, handler)
		return sp
	})
}

func runBidiResponder[Req, Resp any](sp *streamProcessor[Req, Resp], handler BidiHandler[Req, Resp]) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			_ = sp.sendError(ctx, handlerError(r))
		}
	}()

	if err := handler(ctx, sp.requestsCh(), func(resp Resp) error { return sp.send(ctx, resp) }); err != nil {
		_ = sp.sendError(ctx, handlerError(err))
		return
	}
	_ = sp.finishSending(ctx)
}
