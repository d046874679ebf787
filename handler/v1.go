package handler

import (
	"context"
	"encoding/json"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/proto"
)

// v1Namespaces are the legacy request fields, in response field order.
var v1Namespaces = []string{"keys", "renderUrls", "adComponentRenderUrls", "kvInternal"}

// keyGroupOutputs is the shape the reference UDF returns; the v1
// adapter folds it back into the flat legacy response.
type keyGroupOutputs struct {
	KeyGroupOutputs []keyGroupOutput `json:"keyGroupOutputs"`
}

type keyGroupOutput struct {
	Tags      []string                 `json:"tags"`
	KeyValues map[string]keyGroupValue `json:"keyValues"`
}

type keyGroupValue struct {
	Value interface{} `json:"value"`
}

// GetValuesV1 adapts a legacy request onto the v2 path: each non-empty
// namespace becomes one tagged UDF argument, and the UDF's key group
// outputs are written back to the matching namespace map, overwriting
// raw values unconditionally.
func (h *GetValuesV2Handler) GetValuesV1(ctx context.Context, req *proto.V1GetValuesRequest) (*proto.V1GetValuesResponse, error) {
	metadata := map[string]string{}
	if req.Subkey != "" {
		metadata["subkey"] = req.Subkey
	}
	var args []proto.UDFArgument
	for _, ns := range v1Namespaces {
		keys := v1NamespaceKeys(req, ns)
		if len(keys) == 0 {
			continue
		}
		args = append(args, proto.UDFArgument{
			Tags: []string{"custom", ns},
			Data: keys,
		})
	}
	if len(args) == 0 {
		return nil, apierrors.InvalidArgument("request has no keys")
	}

	v2resp, err := h.GetValues(ctx, &proto.GetValuesRequest{
		Metadata:   metadata,
		Partitions: []proto.RequestPartition{{ID: 0, Arguments: args}},
	})
	if err != nil {
		return nil, err
	}
	partition := v2resp.SinglePartition
	if partition.Status != nil {
		return nil, apierrors.New(apierrors.Code(partition.Status.Code), partition.Status.Message)
	}

	outputs := new(keyGroupOutputs)
	if err := json.Unmarshal([]byte(partition.StringOutput), outputs); err != nil {
		return nil, apierrors.Newf(apierrors.CodeInternal, "parse udf output: %v", err)
	}
	resp := new(proto.V1GetValuesResponse)
	for _, group := range outputs.KeyGroupOutputs {
		ns := v1NamespaceOfTags(group.Tags)
		if ns == "" {
			continue
		}
		target := v1ResponseMap(resp, ns)
		for key, kv := range group.KeyValues {
			target[key] = kv.Value
		}
	}
	return resp, nil
}

func v1NamespaceKeys(req *proto.V1GetValuesRequest, ns string) []string {
	switch ns {
	case "keys":
		return req.Keys
	case "renderUrls":
		return req.RenderUrls
	case "adComponentRenderUrls":
		return req.AdComponentRenderUrls
	case "kvInternal":
		return req.KVInternal
	}
	return nil
}

func v1NamespaceOfTags(tags []string) string {
	for _, tag := range tags {
		for _, ns := range v1Namespaces {
			if tag == ns {
				return ns
			}
		}
	}
	return ""
}

func v1ResponseMap(resp *proto.V1GetValuesResponse, ns string) map[string]interface{} {
	var target *map[string]interface{}
	switch ns {
	case "keys":
		target = &resp.Keys
	case "renderUrls":
		target = &resp.RenderUrls
	case "adComponentRenderUrls":
		target = &resp.AdComponentRenderUrls
	default:
		target = &resp.KVInternal
	}
	if *target == nil {
		*target = make(map[string]interface{})
	}
	return *target
}
