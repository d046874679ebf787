package lookup

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/dgryski/go-farm"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/metrics"
	"github.com/oblivkv/kvserver/proto"
	"github.com/oblivkv/kvserver/query"
)

// ClientProvider hands out a remote client for a shard. Implemented by
// the shard manager; the returned client talks to one picked replica.
type ClientProvider interface {
	ClientForShard(shard proto.ShardID) (RemoteClient, error)
}

// ShardedLookup routes every key to the shard owning it and fans
// lookups out in parallel. Keys on the local shard are served from the
// local cache without a network hop.
type ShardedLookup struct {
	local     Lookup
	provider  ClientProvider
	numShards int32
	current   proto.ShardID
}

func NewShardedLookup(local Lookup, provider ClientProvider, numShards int32, current proto.ShardID) *ShardedLookup {
	return &ShardedLookup{local: local, provider: provider, numShards: numShards, current: current}
}

// ShardOfKey maps a key to its owning shard.
func ShardOfKey(key string, numShards int32) proto.ShardID {
	return proto.ShardID(farm.Fingerprint64([]byte(key)) % uint64(numShards))
}

func (s *ShardedLookup) GetKeyValues(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error) {
	return s.lookup(ctx, keys, false)
}

func (s *ShardedLookup) GetKeyValueSet(ctx context.Context, keys []string) (*proto.InternalLookupResponse, error) {
	return s.lookup(ctx, keys, true)
}

func (s *ShardedLookup) lookup(ctx context.Context, keys []string, lookupSets bool) (*proto.InternalLookupResponse, error) {
	if s.numShards <= 1 {
		return s.localLookup(ctx, keys, lookupSets)
	}
	span := trace.SpanFromContextSafe(ctx)

	byShard := make(map[proto.ShardID][]string)
	for _, key := range keys {
		if key == "" {
			continue
		}
		shard := ShardOfKey(key, s.numShards)
		byShard[shard] = append(byShard[shard], key)
	}
	// Pad every shard's key list to the largest one so the fan-out
	// does not reveal the key distribution.
	maxKeys := 0
	for _, shardKeys := range byShard {
		if len(shardKeys) > maxKeys {
			maxKeys = len(shardKeys)
		}
	}

	type shardResult struct {
		shard proto.ShardID
		keys  []string
		resp  *proto.InternalLookupResponse
		err   error
	}
	results := make([]shardResult, 0, len(byShard))
	for shard, shardKeys := range byShard {
		results = append(results, shardResult{shard: shard, keys: shardKeys})
	}

	var wg errgroup.Group
	for i := range results {
		r := &results[i]
		wg.Go(func() error {
			padded := PadKeys(append([]string(nil), r.keys...), maxKeys)
			if r.shard == s.current {
				r.resp, r.err = s.localLookup(ctx, padded, lookupSets)
				return nil
			}
			client, err := s.provider.ClientForShard(r.shard)
			if err != nil {
				r.err = err
				return nil
			}
			if lookupSets {
				r.resp, r.err = client.GetKeyValueSet(ctx, padded)
			} else {
				r.resp, r.err = client.GetKeyValues(ctx, padded)
			}
			return nil
		})
	}
	wg.Wait()

	merged := &proto.InternalLookupResponse{KVPairs: make(map[string]proto.SingleLookupResult, len(keys))}
	for _, r := range results {
		if r.err != nil {
			span.Warnf("lookup on shard %d failed: %v", r.shard, r.err)
			metrics.RemoteLookupErrors.Inc()
			for _, key := range r.keys {
				merged.KVPairs[key] = proto.SingleLookupResult{
					Status: &proto.Status{Code: int32(apierrors.CodeInternal), Message: "Data lookup failed"},
				}
			}
			continue
		}
		for key, result := range r.resp.KVPairs {
			if key == "" {
				continue
			}
			merged.KVPairs[key] = result
		}
	}
	return merged, nil
}

func (s *ShardedLookup) localLookup(ctx context.Context, keys []string, lookupSets bool) (*proto.InternalLookupResponse, error) {
	if lookupSets {
		return s.local.GetKeyValueSet(ctx, keys)
	}
	return s.local.GetKeyValues(ctx, keys)
}

// RunQuery fetches the referenced sets across shards, then evaluates
// the expression locally.
func (s *ShardedLookup) RunQuery(ctx context.Context, input string) ([]string, error) {
	refKeys, err := query.ReferencedKeys(input)
	if err != nil {
		return nil, err
	}
	resp, err := s.GetKeyValueSet(ctx, refKeys)
	if err != nil {
		return nil, err
	}
	return query.Eval(input, func(key string) query.Set {
		if result, ok := resp.KVPairs[key]; ok && result.KeysetValues != nil {
			return query.NewSet(result.KeysetValues.Values)
		}
		return nil
	})
}
