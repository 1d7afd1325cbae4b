package streamrpc

import (
	"context"
	"strconv"
	"time"

	grpcmd "google.golang.org/grpc/metadata"

	"github.com/streamrpc/streamrpc/metadata"
	"github.com/streamrpc/streamrpc/rpclog"
)

// --- Dial options (ClientConn construction), grpcweb/option.go style ---

type dialOptions struct {
	defaultCallOptions []CallOption
	logConfig          rpclog.Config
	maxInboundQueue    int
}

var defaultDialOptions = dialOptions{
	logConfig:       rpclog.DefaultConfig(),
	maxInboundQueue: defaultInboundQueueSize,
}

// DialOption configures a ClientConn.
type DialOption func(*dialOptions)

// WithDefaultCallOptions sets CallOptions applied to every call unless
// overridden per-call.
func WithDefaultCallOptions(opts ...CallOption) DialOption {
	return func(o *dialOptions) { o.defaultCallOptions = opts }
}

// WithLogConfig installs an explicit logger configuration (§9 design note:
// no process-wide logger state).
func WithLogConfig(cfg rpclog.Config) DialOption {
	return func(o *dialOptions) { o.logConfig = cfg }
}

// WithMaxInboundQueue bounds each call's inbound message queue (§9's
// "most significant open design knob"), surfaced as RESOURCE_EXHAUSTED on
// overflow.
func WithMaxInboundQueue(n int) DialOption {
	return func(o *dialOptions) { o.maxInboundQueue = n }
}

// --- Call options ---

type callOptions struct {
	timeout time.Duration
	header  *grpcmd.MD
	trailer *grpcmd.MD
	extra   grpcmd.MD
}

var defaultCallOptions = callOptions{}

// CallOption configures one call.
type CallOption func(*callOptions)

// WithTimeout sets the call's deadline, mapped onto the wire as a
// grpc-timeout metadata entry on InitialRequest (§6).
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithHeader captures the InitialResponse metadata into *md once the call
// has received it.
func WithHeader(md *grpcmd.MD) CallOption {
	return func(o *callOptions) { o.header = md }
}

// WithTrailer captures the Trailer metadata into *md once the call
// completes.
func WithTrailer(md *grpcmd.MD) CallOption {
	return func(o *callOptions) { o.trailer = md }
}

// WithExtraMetadata merges extra into the call's InitialRequest metadata.
func WithExtraMetadata(md grpcmd.MD) CallOption {
	return func(o *callOptions) { o.extra = grpcmd.Join(o.extra, md) }
}

func applyCallOptions(defaults []CallOption, opts []CallOption) *callOptions {
	co := defaultCallOptions
	for _, f := range defaults {
		f(&co)
	}
	for _, f := range opts {
		f(&co)
	}
	return &co
}

func (co *callOptions) extraHeaders() grpcmd.MD {
	md := co.extra
	if co.timeout > 0 {
		md = grpcmd.Join(md, grpcmd.Pairs(metadata.KeyGRPCTimeout, encodeTimeout(co.timeout)))
	}
	return md
}

// encodeTimeout renders d as the spec's decimal+unit-suffix grpc-timeout
// value (§6: suffix one of n|u|m|S|M|H).
func encodeTimeout(d time.Duration) string {
	if d <= 0 {
		return "0n"
	}
	return strconv.FormatInt(d.Nanoseconds(), 10) + "n"
}

func withCallTimeout(ctx context.Context, co *callOptions) (context.Context, context.CancelFunc) {
	if co.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, co.timeout)
}

// ctxErrStatus classifies a cancelled/expired call context into the
// spec's Timeout vs Cancelled error kinds (§7).
func ctxErrStatus(ctx context.Context) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return timeoutError()
	default:
		return ErrCancelled
	}
}

// --- Server options ---

type serverOptions struct {
	logConfig       rpclog.Config
	maxInboundQueue int
}

var defaultServerOptions = serverOptions{
	logConfig:       rpclog.DefaultConfig(),
	maxInboundQueue: defaultInboundQueueSize,
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// WithServerLogConfig installs an explicit logger configuration for a
// Server (§9 design note).
func WithServerLogConfig(cfg rpclog.Config) ServerOption {
	return func(o *serverOptions) { o.logConfig = cfg }
}

// WithServerMaxInboundQueue bounds each stream's inbound message queue.
func WithServerMaxInboundQueue(n int) ServerOption {
	return func(o *serverOptions) { o.maxInboundQueue = n }
}
