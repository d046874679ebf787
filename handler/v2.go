// Package handler decodes query requests from their transport
// envelopes, runs the UDF per partition, and encodes the responses.
package handler

import (
	"context"
	"encoding/json"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/errgroup"

	"github.com/oblivkv/kvserver/bhttp"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/ohttp"
	"github.com/oblivkv/kvserver/proto"
)

// UDFExecutor runs the installed code object once.
type UDFExecutor interface {
	ExecuteCode(ctx context.Context, metadata map[string]string, args []proto.UDFArgument) (string, error)
}

// GetValuesV2Handler serves the v2 query API over plaintext JSON,
// binary HTTP, and oblivious HTTP.
type GetValuesV2Handler struct {
	udf     UDFExecutor
	gateway *ohttp.Gateway
}

func NewGetValuesV2Handler(udf UDFExecutor, gateway *ohttp.Gateway) *GetValuesV2Handler {
	return &GetValuesV2Handler{udf: udf, gateway: gateway}
}

// GetValues runs the UDF once per partition. A single-partition request
// answers in singlePartition; anything larger runs the partitions in
// parallel and answers in partitions. UDF failures surface as inline
// partition statuses, never as a transport error.
func (h *GetValuesV2Handler) GetValues(ctx context.Context, req *proto.GetValuesRequest) (*proto.GetValuesResponse, error) {
	if len(req.Partitions) == 0 {
		return nil, apierrors.ErrNoPartitions
	}
	if len(req.Partitions) == 1 {
		partition := h.executePartition(ctx, req.Metadata, &req.Partitions[0])
		return &proto.GetValuesResponse{SinglePartition: partition}, nil
	}

	out := make([]proto.ResponsePartition, len(req.Partitions))
	wg, ctx := errgroup.WithContext(ctx)
	for i := range req.Partitions {
		i := i
		wg.Go(func() error {
			out[i] = *h.executePartition(ctx, req.Metadata, &req.Partitions[i])
			return nil
		})
	}
	wg.Wait()
	return &proto.GetValuesResponse{Partitions: out}, nil
}

func (h *GetValuesV2Handler) executePartition(ctx context.Context, metadata map[string]string, p *proto.RequestPartition) *proto.ResponsePartition {
	out := &proto.ResponsePartition{ID: p.ID}
	result, err := h.udf.ExecuteCode(ctx, metadata, p.Arguments)
	if err != nil {
		trace.SpanFromContextSafe(ctx).Warnf("udf execution for partition %d: %v", p.ID, err)
		out.Status = &proto.Status{Code: int32(apierrors.CodeOf(err)), Message: err.Error()}
		return out
	}
	out.StringOutput = result
	return out
}

// GetValuesHTTP is the plaintext JSON envelope.
func (h *GetValuesV2Handler) GetValuesHTTP(ctx context.Context, rawBody []byte) ([]byte, error) {
	req := new(proto.GetValuesRequest)
	if err := json.Unmarshal(rawBody, req); err != nil {
		return nil, apierrors.Newf(apierrors.CodeInvalidArgument, "parse request: %v", err)
	}
	resp, err := h.GetValues(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

// httpStatusOf maps the error taxonomy onto binary HTTP statuses.
func httpStatusOf(code apierrors.Code) int {
	switch code {
	case apierrors.CodeOK:
		return 200
	case apierrors.CodeInvalidArgument:
		return 400
	case apierrors.CodePermissionDenied:
		return 403
	case apierrors.CodeNotFound:
		return 404
	default:
		return 500
	}
}

// BinaryHTTPGetValues decodes a binary HTTP request carrying the JSON
// body and answers with an encoded binary HTTP response. Failures are
// folded into the binary response status, so the envelope always
// round-trips.
func (h *GetValuesV2Handler) BinaryHTTPGetValues(ctx context.Context, rawBody []byte) ([]byte, error) {
	req, err := bhttp.DecodeRequest(rawBody)
	if err != nil {
		return binaryError(err), nil
	}
	body, err := h.GetValuesHTTP(ctx, req.Body)
	if err != nil {
		return binaryError(err), nil
	}
	return bhttp.EncodeResponse(&bhttp.Response{
		StatusCode: 200,
		Header:     []bhttp.Field{{Name: "content-type", Value: "application/json"}},
		Body:       body,
	}), nil
}

func binaryError(err error) []byte {
	status := proto.Status{Code: int32(apierrors.CodeOf(err)), Message: err.Error()}
	body, _ := json.Marshal(status)
	return bhttp.EncodeResponse(&bhttp.Response{
		StatusCode: httpStatusOf(apierrors.CodeOf(err)),
		Header:     []bhttp.Field{{Name: "content-type", Value: "application/json"}},
		Body:       body,
	})
}

// ObliviousGetValues opens the encapsulated request, serves the binary
// HTTP message inside, and seals the answer to the request context.
// Decapsulation failures are returned as errors since no response key
// material exists for them.
func (h *GetValuesV2Handler) ObliviousGetValues(ctx context.Context, encapsulated []byte) ([]byte, error) {
	plaintext, reqCtx, err := h.gateway.DecapsulateRequest(encapsulated)
	if err != nil {
		return nil, err
	}
	binaryResp, err := h.BinaryHTTPGetValues(ctx, plaintext)
	if err != nil {
		return nil, err
	}
	return reqCtx.EncapsulateResponse(binaryResp)
}
