package metadata_test

import (
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	grpcmd "google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/streamrpc/streamrpc/metadata"
)

func TestForClientInitial(t *testing.T) {
	m := metadata.ForClientInitial("/Foo/Bar", grpcmd.Pairs("x-trace", "abc"))
	if m.Flavor != metadata.InitialRequest {
		t.Fatalf("Flavor = %v, want InitialRequest", m.Flavor)
	}
	if got := m.GetHeaderValue(metadata.KeyPath); got != "/Foo/Bar" {
		t.Fatalf("path = %q", got)
	}
	if got := m.GetHeaderValue("x-trace"); got != "abc" {
		t.Fatalf("x-trace = %q", got)
	}
}

func TestForTrailerStatus_RoundTrip(t *testing.T) {
	m := metadata.ForTrailerStatus(status.New(codes.NotFound, "no such thing"))

	st, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Code() != codes.NotFound || st.Message() != "no such thing" {
		t.Fatalf("got %v", st)
	}
}

func TestForTrailerStatus_WithDetails(t *testing.T) {
	base := status.New(codes.PermissionDenied, "nope")
	withDetails, err := base.WithDetails(&errdetails.ErrorInfo{Reason: "NOT_ALLOWED", Domain: "test"})
	if err != nil {
		t.Fatalf("WithDetails: %v", err)
	}

	m := metadata.ForTrailerStatus(withDetails)
	if m.GetHeaderValue(metadata.KeyStatusDetail) == "" {
		t.Fatal("expected grpc-status-details-bin to be set")
	}

	details, err := m.StatusDetails()
	if err != nil {
		t.Fatalf("StatusDetails: %v", err)
	}
	if details == nil || len(details.Details) != 1 {
		t.Fatalf("got %v", details)
	}
}

func TestStatus_MissingGRPCStatus(t *testing.T) {
	m := metadata.Metadata{Flavor: metadata.Trailer, MD: grpcmd.MD{}}
	if _, err := m.Status(); err == nil {
		t.Fatal("expected ErrMissingStatus")
	}
}

func TestForHalfClose_CarriesNoStatus(t *testing.T) {
	m := metadata.ForHalfClose()
	if _, err := m.Status(); err == nil {
		t.Fatal("ForHalfClose must not carry grpc-status")
	}
}

func TestForCancel_CarriesCancelledStatus(t *testing.T) {
	m := metadata.ForCancel("client gone")
	st, err := m.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Code() != codes.Canceled {
		t.Fatalf("code = %v, want Canceled", st.Code())
	}
}
