// Package metadata is the core's header/trailer model. It wraps
// google.golang.org/grpc/metadata.MD (the wire-agnostic case-insensitive
// string-multimap every example repo in the pack already depends on) and
// adds the "flavor" tag and well-known-key constructors the spec requires.
// MD is a map: the values under one name keep their order, but the order
// of distinct names is not kept.
package metadata

import (
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Well-known metadata keys (§6).
const (
	KeyPath         = ":path"
	KeyGRPCStatus   = "grpc-status"
	KeyGRPCMessage  = "grpc-message"
	KeyContentType  = "content-type"
	KeyGRPCTimeout  = "grpc-timeout"
	KeyStatusDetail = "grpc-status-details-bin"
)

// Flavor tags which phase of the protocol a Metadata value belongs to.
type Flavor int

const (
	InitialRequest Flavor = iota
	InitialResponse
	Trailer
)

func (f Flavor) String() string {
	switch f {
	case InitialRequest:
		return "InitialRequest"
	case InitialResponse:
		return "InitialResponse"
	case Trailer:
		return "Trailer"
	default:
		return "Unknown"
	}
}

// Metadata is an immutable header multimap plus its flavor. Values under
// one name keep their order; the order across names is not kept. Once
// constructed, a Metadata value must never be mutated; build a new one via
// the constructor helpers instead.
type Metadata struct {
	Flavor Flavor
	MD     metadata.MD
}

// ForClientInitial builds the InitialRequest metadata for a call to path,
// optionally merging caller-supplied extras (e.g. auth headers).
func ForClientInitial(path string, extras ...metadata.MD) Metadata {
	md := metadata.Pairs(KeyPath, path)
	for _, e := range extras {
		md = metadata.Join(md, e)
	}
	return Metadata{Flavor: InitialRequest, MD: md}
}

// ForServerInitialResponse builds the InitialResponse metadata a responder
// sends before (or alongside) its first payload.
func ForServerInitialResponse(extras ...metadata.MD) Metadata {
	md := metadata.MD{}
	for _, e := range extras {
		md = metadata.Join(md, e)
	}
	return Metadata{Flavor: InitialResponse, MD: md}
}

// ForTrailer builds the Trailer metadata carrying the call's final status.
// A call's final Trailer always carries grpc-status; ForTrailerStatus,
// ForTrailerWithDetails and ForCancel all build theirs through this
// constructor. ForHalfClose is the one Trailer-flavored value without
// grpc-status.
func ForTrailer(code codes.Code, message string, extras ...metadata.MD) Metadata {
	md := metadata.Pairs(
		KeyGRPCStatus, strconv.Itoa(int(code)),
		KeyGRPCMessage, message,
	)
	for _, e := range extras {
		md = metadata.Join(md, e)
	}
	return Metadata{Flavor: Trailer, MD: md}
}

// ForTrailerStatus is a convenience wrapper building a Trailer directly
// from a *status.Status. When st carries structured details (via
// status.Status.WithDetails), they are additionally serialized into the
// grpc-status-details-bin key (§6) so a peer that inspects StatusDetails
// can recover them; a marshal failure is swallowed and the trailer is
// still sent without the bin key rather than failing the whole call.
func ForTrailerStatus(st *status.Status, extras ...metadata.MD) Metadata {
	if len(st.Proto().GetDetails()) > 0 {
		if m, err := ForTrailerWithDetails(st, extras...); err == nil {
			return m
		}
	}
	return ForTrailer(st.Code(), st.Message(), extras...)
}

// ForHalfClose builds the payload-less, flavor-Trailer metadata a side
// sends with endStream=true purely to signal "I am done sending" on its
// own direction (§4.4, §9 Open Question #2). It deliberately carries no
// grpc-status: the receiving processor must detect it via the transport
// envelope's EndStream flag, never by calling Status() on it.
func ForHalfClose() Metadata {
	return Metadata{Flavor: Trailer, MD: metadata.MD{}}
}

// ForCancel builds the best-effort cancellation notice a caller sends
// toward its peer on local close()/timeout (§4.8, §5). It is Trailer-
// flavored and does carry grpc-status=CANCELLED so a peer that does
// inspect Status() (rather than just EndStream) still gets the right
// classification.
func ForCancel(message string) Metadata {
	return ForTrailer(codes.Canceled, message)
}

// GetHeaderValue returns the first occurrence of name (case-insensitive,
// per grpc/metadata's own normalization), or "" if absent.
func (m Metadata) GetHeaderValue(name string) string {
	vs := m.MD.Get(name)
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Status reconstructs the *status.Status carried by a Trailer. It is a
// protocol error for a Trailer to be missing grpc-status; callers should
// treat a non-nil err here as that classified error.
func (m Metadata) Status() (*status.Status, error) {
	raw := m.MD.Get(KeyGRPCStatus)
	if len(raw) == 0 {
		return nil, errMissingStatus
	}
	code, err := strconv.Atoi(raw[0])
	if err != nil {
		return nil, errMissingStatus
	}
	msg := m.GetHeaderValue(KeyGRPCMessage)
	return status.New(codes.Code(code), msg), nil
}

var errMissingStatus = status.Error(codes.Internal, "trailer missing grpc-status")

// ErrMissingStatus is returned by Status when a Trailer lacks grpc-status.
func ErrMissingStatus() error { return errMissingStatus }
