package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oblivkv/kvserver/bhttp"
	"github.com/oblivkv/kvserver/cache"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/hpkekeys"
	"github.com/oblivkv/kvserver/lookup"
	"github.com/oblivkv/kvserver/ohttp"
	"github.com/oblivkv/kvserver/proto"
	"github.com/oblivkv/kvserver/udf"
)

const greeting = "Hello, world! If you are seeing this, it means you can query me successfully"

func newTestHandler(t *testing.T) (*GetValuesV2Handler, *ohttp.Client) {
	c := cache.New()
	c.UpdateKeyValue("hi", greeting, 1)
	c.UpdateKeyValue("key1", "value1", 1)

	hooks := udf.NewHooks()
	hooks.SetLookup(lookup.NewLocalLookup(c))
	udfClient := udf.NewClient(udf.Config{Workers: 2}, hooks)
	require.NoError(t, udfClient.SetCodeObject(udf.CodeConfig{
		JS: `
			function HandleRequest(metadata, keys) {
				var result = getValues(keys);
				var out = {};
				for (var key in result.kvPairs) {
					if ("value" in result.kvPairs[key]) {
						out[key] = result.kvPairs[key].value;
					}
				}
				return out;
			}
		`,
		LogicalCommitTime: 1,
	}))

	keys := hpkekeys.NewTestManager()
	pub, err := keys.PublicKey()
	require.NoError(t, err)
	return NewGetValuesV2Handler(udfClient, ohttp.NewGateway(keys)), ohttp.NewClient(pub)
}

func singlePartitionRequest(keys ...string) *proto.GetValuesRequest {
	data := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		data = append(data, k)
	}
	return &proto.GetValuesRequest{
		Metadata: map[string]string{"hostname": "example.com"},
		Partitions: []proto.RequestPartition{
			{ID: 0, Arguments: []proto.UDFArgument{{Data: data}}},
		},
	}
}

func TestGetValuesSinglePartition(t *testing.T) {
	h, _ := newTestHandler(t)
	resp, err := h.GetValues(context.Background(), singlePartitionRequest("hi"))
	require.NoError(t, err)
	require.NotNil(t, resp.SinglePartition)
	require.Empty(t, resp.Partitions)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.SinglePartition.StringOutput), &out))
	require.Equal(t, greeting, out["hi"])
}

func TestGetValuesNoPartitions(t *testing.T) {
	h, _ := newTestHandler(t)
	_, err := h.GetValues(context.Background(), &proto.GetValuesRequest{})
	require.ErrorIs(t, err, apierrors.ErrNoPartitions)
	require.Equal(t, "At least 1 partition is required", err.Error())
}

func TestGetValuesMultiplePartitions(t *testing.T) {
	h, _ := newTestHandler(t)
	req := &proto.GetValuesRequest{
		Partitions: []proto.RequestPartition{
			{ID: 0, Arguments: []proto.UDFArgument{{Data: []interface{}{"hi"}}}},
			{ID: 7, Arguments: []proto.UDFArgument{{Data: []interface{}{"key1"}}}},
		},
	}
	resp, err := h.GetValues(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, resp.SinglePartition)
	require.Len(t, resp.Partitions, 2)

	byID := make(map[int32]proto.ResponsePartition)
	for _, p := range resp.Partitions {
		byID[p.ID] = p
	}
	require.Contains(t, byID[0].StringOutput, greeting)
	require.Contains(t, byID[7].StringOutput, "value1")
}

func TestGetValuesHTTP(t *testing.T) {
	h, _ := newTestHandler(t)
	body, err := json.Marshal(singlePartitionRequest("hi"))
	require.NoError(t, err)

	raw, err := h.GetValuesHTTP(context.Background(), body)
	require.NoError(t, err)
	resp := new(proto.GetValuesResponse)
	require.NoError(t, json.Unmarshal(raw, resp))
	require.Contains(t, resp.SinglePartition.StringOutput, greeting)

	_, err = h.GetValuesHTTP(context.Background(), []byte("{not json"))
	require.Equal(t, apierrors.CodeInvalidArgument, apierrors.CodeOf(err))
}

func encodeBinaryRequest(t *testing.T, req *proto.GetValuesRequest) []byte {
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return bhttp.EncodeRequest(&bhttp.Request{
		Method:    "POST",
		Scheme:    "https",
		Authority: "example.com",
		Path:      "/v2/getvalues",
		Header:    []bhttp.Field{{Name: "content-type", Value: "application/json"}},
		Body:      body,
	})
}

func TestBinaryHTTPGetValues(t *testing.T) {
	h, _ := newTestHandler(t)

	raw, err := h.BinaryHTTPGetValues(context.Background(), encodeBinaryRequest(t, singlePartitionRequest("hi")))
	require.NoError(t, err)
	resp, err := bhttp.DecodeResponse(raw)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	parsed := new(proto.GetValuesResponse)
	require.NoError(t, json.Unmarshal(resp.Body, parsed))
	require.Contains(t, parsed.SinglePartition.StringOutput, greeting)
}

func TestBinaryHTTPGetValuesBadRequest(t *testing.T) {
	h, _ := newTestHandler(t)

	// Garbage envelope.
	raw, err := h.BinaryHTTPGetValues(context.Background(), []byte{0xff, 0xff})
	require.NoError(t, err)
	resp, err := bhttp.DecodeResponse(raw)
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)

	// Valid envelope, bad JSON body.
	raw, err = h.BinaryHTTPGetValues(context.Background(), bhttp.EncodeRequest(&bhttp.Request{
		Method: "POST", Scheme: "https", Authority: "a", Path: "/v2/getvalues",
		Body: []byte("{not json"),
	}))
	require.NoError(t, err)
	resp, err = bhttp.DecodeResponse(raw)
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)

	// No partitions folds to an internal status.
	raw, err = h.BinaryHTTPGetValues(context.Background(),
		encodeBinaryRequest(t, &proto.GetValuesRequest{}))
	require.NoError(t, err)
	resp, err = bhttp.DecodeResponse(raw)
	require.NoError(t, err)
	require.Equal(t, 500, resp.StatusCode)

	var status proto.Status
	require.NoError(t, json.Unmarshal(resp.Body, &status))
	require.Equal(t, "At least 1 partition is required", status.Message)
}

func TestObliviousGetValues(t *testing.T) {
	h, client := newTestHandler(t)

	sealed, reqCtx, err := client.EncapsulateRequest(encodeBinaryRequest(t, singlePartitionRequest("hi")))
	require.NoError(t, err)

	sealedResp, err := h.ObliviousGetValues(context.Background(), sealed)
	require.NoError(t, err)

	raw, err := reqCtx.DecapsulateResponse(sealedResp)
	require.NoError(t, err)
	resp, err := bhttp.DecodeResponse(raw)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	parsed := new(proto.GetValuesResponse)
	require.NoError(t, json.Unmarshal(resp.Body, parsed))
	require.Contains(t, parsed.SinglePartition.StringOutput, greeting)
}

func TestObliviousGetValuesUnknownKey(t *testing.T) {
	h, client := newTestHandler(t)
	sealed, _, err := client.EncapsulateRequest([]byte("payload"))
	require.NoError(t, err)
	sealed[0] = hpkekeys.TestKeyID + 1

	_, err = h.ObliviousGetValues(context.Background(), sealed)
	require.ErrorIs(t, err, apierrors.ErrUnknownKeyID)
}

func newV1TestHandler(t *testing.T) *GetValuesV2Handler {
	c := cache.New()
	c.UpdateKeyValue("hi", greeting, 1)
	c.UpdateKeyValue("url1", "render1", 1)

	hooks := udf.NewHooks()
	hooks.SetLookup(lookup.NewLocalLookup(c))
	udfClient := udf.NewClient(udf.Config{Workers: 1}, hooks)
	require.NoError(t, udfClient.SetCodeObject(udf.DefaultCodeConfig()))
	return NewGetValuesV2Handler(udfClient, nil)
}

func TestGetValuesV1(t *testing.T) {
	h := newV1TestHandler(t)
	resp, err := h.GetValuesV1(context.Background(), &proto.V1GetValuesRequest{
		Keys:       []string{"hi", "missing"},
		RenderUrls: []string{"url1"},
	})
	require.NoError(t, err)
	require.Equal(t, greeting, resp.Keys["hi"])
	require.NotContains(t, resp.Keys, "missing")
	require.Equal(t, "render1", resp.RenderUrls["url1"])
	require.Empty(t, resp.AdComponentRenderUrls)
}

func TestGetValuesV1NoKeys(t *testing.T) {
	h := newV1TestHandler(t)
	_, err := h.GetValuesV1(context.Background(), &proto.V1GetValuesRequest{})
	require.Equal(t, apierrors.CodeInvalidArgument, apierrors.CodeOf(err))
}
