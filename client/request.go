package client

import (
	"context"
	"encoding/json"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"

	"github.com/oblivkv/kvserver/bhttp"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/proto"
)

// NewKeysRequest builds a single-partition request that asks the
// reference UDF to look up keys, tagged the way browsers tag key
// lookups.
func NewKeysRequest(hostname string, keys ...string) *proto.GetValuesRequest {
	data := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		data = append(data, key)
	}
	metadata := map[string]string{}
	if hostname != "" {
		metadata["hostname"] = hostname
	}
	return &proto.GetValuesRequest{
		Metadata: metadata,
		Partitions: []proto.RequestPartition{{
			ID: 0,
			Arguments: []proto.UDFArgument{{
				Tags: []string{"custom", "keys"},
				Data: data,
			}},
		}},
	}
}

func MarshalRequest(req *proto.GetValuesRequest) ([]byte, error) {
	if len(req.Partitions) == 0 {
		return nil, apierrors.ErrNoPartitions
	}
	return json.Marshal(req)
}

func UnmarshalResponse(raw []byte) (*proto.GetValuesResponse, error) {
	resp := new(proto.GetValuesResponse)
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, apierrors.Newf(apierrors.CodeInternal, "parse response: %v", err)
	}
	return resp, nil
}

// EncodeBinaryRequest wraps the JSON form of req in a binary HTTP
// request envelope targeting the v2 query path.
func EncodeBinaryRequest(req *proto.GetValuesRequest) ([]byte, error) {
	body, err := MarshalRequest(req)
	if err != nil {
		return nil, err
	}
	return bhttp.EncodeRequest(&bhttp.Request{
		Method:    "POST",
		Scheme:    "https",
		Authority: "kvserver",
		Path:      "/v2/getvalues",
		Header:    []bhttp.Field{{Name: "content-type", Value: "application/json"}},
		Body:      body,
	}), nil
}

func statusError(httpStatus int, body []byte) error {
	status := new(proto.Status)
	if err := json.Unmarshal(body, status); err == nil && status.Message != "" {
		return apierrors.New(apierrors.Code(status.Code), status.Message)
	}
	return apierrors.Newf(apierrors.CodeInternal, "server returned status %d", httpStatus)
}

// traceSpan returns the request id to send along, either the caller's
// trace id or a fresh one.
func traceSpan(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span != nil {
		return span.TraceID()
	}
	return uuid.NewString()
}
