package lookup

import (
	"context"

	"github.com/oblivkv/kvserver/cache"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/proto"
	"github.com/oblivkv/kvserver/query"
)

// LocalLookup reads the node's own cache. Empty keys are padding added
// by the sharded layer and are skipped silently.
type LocalLookup struct {
	cache cache.Cache
}

func NewLocalLookup(c cache.Cache) *LocalLookup {
	return &LocalLookup{cache: c}
}

func (l *LocalLookup) GetKeyValues(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error) {
	resp := &proto.InternalLookupResponse{KVPairs: make(map[string]proto.SingleLookupResult, len(keys))}
	values := l.cache.GetKeyValuePairs(dropEmpty(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if v, ok := values[key]; ok {
			resp.KVPairs[key] = proto.SingleLookupResult{Value: proto.StringValue(v)}
		} else {
			resp.KVPairs[key] = proto.SingleLookupResult{
				Status: &proto.Status{Code: int32(apierrors.CodeNotFound), Message: "Key not found"},
			}
		}
	}
	return resp, nil
}

func (l *LocalLookup) GetKeyValueSet(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error) {
	resp := &proto.InternalLookupResponse{KVPairs: make(map[string]proto.SingleLookupResult, len(keys))}
	sets := l.cache.GetKeyValueSet(dropEmpty(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if members := sets[key]; len(members) > 0 {
			resp.KVPairs[key] = proto.SingleLookupResult{KeysetValues: &proto.KeysetValues{Values: members}}
		} else {
			resp.KVPairs[key] = proto.SingleLookupResult{
				Status: &proto.Status{Code: int32(apierrors.CodeNotFound), Message: "Key not found"},
			}
		}
	}
	return resp, nil
}

func (l *LocalLookup) RunQuery(ctx context.Context, input string) ([]string, error) {
	node, err := query.Parse(input)
	if err != nil {
		return nil, err
	}
	var keys []string
	node.Keys(&keys)
	sets := l.cache.GetKeyValueSet(keys)
	return query.Eval(input, func(key string) query.Set {
		return query.NewSet(sets[key])
	})
}

func dropEmpty(keys []string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
