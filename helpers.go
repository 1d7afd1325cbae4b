package streamrpc

import (
	"context"

	"google.golang.org/grpc/codes"

	"github.com/streamrpc/streamrpc/metadata"
)

// methodNotFoundTrailer builds the Trailer(UNIMPLEMENTED, "method not
// found") reply the dispatcher sends for an unregistered path (§4.7).
func methodNotFoundTrailer() metadata.Metadata {
	return metadata.ForTrailer(codes.Unimplemented, "method not found")
}

// noopContext is used for best-effort sends the dispatcher issues outside
// of any particular call's context (e.g. the UNIMPLEMENTED auto-reply).
func noopContext() context.Context { return context.Background() }
