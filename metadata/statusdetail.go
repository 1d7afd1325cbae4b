package metadata

import (
	"encoding/base64"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// ForTrailerWithDetails builds a Trailer carrying st plus its structured
// details (errdetails.*, e.g. RetryInfo/BadRequest) serialized as a
// google.rpc.Status into the grpc-status-details-bin key (§6, "Supplemented
// Features"). Binary metadata values are carried as unpadded standard
// base64, the same convention grpc-web's "-bin" suffixed headers use.
func ForTrailerWithDetails(st *status.Status, extras ...metadata.MD) (Metadata, error) {
	raw, err := proto.Marshal(st.Proto())
	if err != nil {
		return Metadata{}, err
	}
	bin := base64.RawStdEncoding.EncodeToString(raw)
	all := append([]metadata.MD{metadata.Pairs(KeyStatusDetail, bin)}, extras...)
	return ForTrailer(st.Code(), st.Message(), all...), nil
}

// StatusDetails decodes the google.rpc.Status stashed under
// grpc-status-details-bin by ForTrailerWithDetails, if present.
func (m Metadata) StatusDetails() (*spb.Status, error) {
	raw := m.GetHeaderValue(KeyStatusDetail)
	if raw == "" {
		return nil, nil
	}
	data, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	var out spb.Status
	if err := proto.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
