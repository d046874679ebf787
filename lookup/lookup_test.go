package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oblivkv/kvserver/cache"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/proto"
)

func newTestCache() cache.Cache {
	c := cache.New()
	c.UpdateKeyValue("key1", "value1", 1)
	c.UpdateKeyValue("key2", "value2", 1)
	c.UpdateKeyValueSet("set1", []string{"a", "b"}, 1)
	c.UpdateKeyValueSet("set2", []string{"b", "c"}, 1)
	return c
}

func TestLocalGetKeyValues(t *testing.T) {
	l := NewLocalLookup(newTestCache())
	resp, err := l.GetKeyValues(context.Background(), []string{"key1", "missing", ""})
	require.NoError(t, err)
	require.Len(t, resp.KVPairs, 2)
	require.Equal(t, "value1", *resp.KVPairs["key1"].Value)

	missing := resp.KVPairs["missing"]
	require.Nil(t, missing.Value)
	require.Equal(t, int32(apierrors.CodeNotFound), missing.Status.Code)
	require.Equal(t, "Key not found", missing.Status.Message)
}

func TestLocalGetKeyValueSet(t *testing.T) {
	l := NewLocalLookup(newTestCache())
	resp, err := l.GetKeyValueSet(context.Background(), []string{"set1", "missing"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, resp.KVPairs["set1"].KeysetValues.Values)
	require.Equal(t, int32(apierrors.CodeNotFound), resp.KVPairs["missing"].Status.Code)
}

func TestLocalRunQuery(t *testing.T) {
	l := NewLocalLookup(newTestCache())
	got, err := l.RunQuery(context.Background(), "set1 & set2")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, got)

	_, err = l.RunQuery(context.Background(), "")
	require.ErrorIs(t, err, apierrors.ErrEmptyQuery)
}

type fakeRemote struct {
	gotKeys []string
	fail    bool
	sets    map[string][]string
	values  map[string]string
}

func (f *fakeRemote) respond(keys []string, lookupSets bool) (*proto.InternalLookupResponse, error) {
	f.gotKeys = keys
	if f.fail {
		return nil, apierrors.Unavailable("connection refused")
	}
	resp := &proto.InternalLookupResponse{KVPairs: make(map[string]proto.SingleLookupResult)}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if lookupSets {
			if members, ok := f.sets[key]; ok {
				resp.KVPairs[key] = proto.SingleLookupResult{KeysetValues: &proto.KeysetValues{Values: members}}
				continue
			}
		} else if v, ok := f.values[key]; ok {
			resp.KVPairs[key] = proto.SingleLookupResult{Value: proto.StringValue(v)}
			continue
		}
		resp.KVPairs[key] = proto.SingleLookupResult{
			Status: &proto.Status{Code: int32(apierrors.CodeNotFound), Message: "Key not found"},
		}
	}
	return resp, nil
}

func (f *fakeRemote) GetKeyValues(_ context.Context, keys []string) (*proto.InternalLookupResponse, error) {
	return f.respond(keys, false)
}

func (f *fakeRemote) GetKeyValueSet(_ context.Context, keys []string) (*proto.InternalLookupResponse, error) {
	return f.respond(keys, true)
}

type fakeProvider struct {
	remotes map[proto.ShardID]*fakeRemote
}

func (f *fakeProvider) ClientForShard(shard proto.ShardID) (RemoteClient, error) {
	r, ok := f.remotes[shard]
	if !ok {
		return nil, apierrors.ErrShardNotAvailable
	}
	return r, nil
}

func TestShardedRoutesToOwningShard(t *testing.T) {
	const numShards = 4
	keys := []string{"key1", "key2", "alpha", "beta", "gamma"}

	local := cache.New()
	provider := &fakeProvider{remotes: make(map[proto.ShardID]*fakeRemote)}
	for i := int32(0); i < numShards; i++ {
		provider.remotes[i] = &fakeRemote{values: make(map[string]string)}
	}
	for _, key := range keys {
		shard := ShardOfKey(key, numShards)
		if shard == 0 {
			local.UpdateKeyValue(key, "v-"+key, 1)
		} else {
			provider.remotes[shard].values[key] = "v-" + key
		}
	}

	s := NewShardedLookup(NewLocalLookup(local), provider, numShards, 0)
	resp, err := s.GetKeyValues(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, resp.KVPairs, len(keys))
	for _, key := range keys {
		require.Equal(t, "v-"+key, *resp.KVPairs[key].Value, key)
	}
}

func splitByShard(t *testing.T, numShards int32) (shard0, shard1 []string) {
	for _, key := range []string{
		"a", "b", "c", "d", "e", "f", "g", "h",
		"i", "j", "k", "l", "m", "n", "o", "p",
	} {
		if ShardOfKey(key, numShards) == 0 {
			shard0 = append(shard0, key)
		} else {
			shard1 = append(shard1, key)
		}
	}
	require.NotEmpty(t, shard0)
	require.NotEmpty(t, shard1)
	return shard0, shard1
}

func TestShardedPadsKeysPerShard(t *testing.T) {
	const numShards = 2
	shard0, shard1 := splitByShard(t, numShards)

	remote := &fakeRemote{values: map[string]string{}}
	provider := &fakeProvider{remotes: map[proto.ShardID]*fakeRemote{1: remote}}
	s := NewShardedLookup(NewLocalLookup(cache.New()), provider, numShards, 0)

	keys := append(append([]string(nil), shard0...), shard1[0])
	_, err := s.GetKeyValues(context.Background(), keys)
	require.NoError(t, err)

	// The remote list is padded with empty keys up to the largest
	// per-shard group.
	require.Len(t, remote.gotKeys, len(shard0))
	real := 0
	for _, key := range remote.gotKeys {
		if key != "" {
			real++
		}
	}
	require.Equal(t, 1, real)
}

func TestShardedFailureMarksShardKeys(t *testing.T) {
	const numShards = 2
	localKeys, remoteKeys := splitByShard(t, numShards)

	local := cache.New()
	for _, key := range localKeys {
		local.UpdateKeyValue(key, "v-"+key, 1)
	}
	provider := &fakeProvider{remotes: map[proto.ShardID]*fakeRemote{1: {fail: true}}}
	s := NewShardedLookup(NewLocalLookup(local), provider, numShards, 0)

	resp, err := s.GetKeyValues(context.Background(), append(append([]string(nil), localKeys...), remoteKeys...))
	require.NoError(t, err)
	// Keys on the healthy shard still resolve.
	for _, key := range localKeys {
		require.Equal(t, "v-"+key, *resp.KVPairs[key].Value, key)
	}
	// Keys on the failed shard carry an inline internal status.
	for _, key := range remoteKeys {
		status := resp.KVPairs[key].Status
		require.NotNil(t, status, key)
		require.Equal(t, int32(apierrors.CodeInternal), status.Code)
		require.Equal(t, "Data lookup failed", status.Message)
	}
}

func TestShardedRunQuery(t *testing.T) {
	const numShards = 2
	remote := &fakeRemote{sets: make(map[string][]string)}
	provider := &fakeProvider{remotes: map[proto.ShardID]*fakeRemote{1: remote}}
	local := cache.New()

	place := func(key string, members []string) {
		if ShardOfKey(key, numShards) == 0 {
			local.UpdateKeyValueSet(key, members, 1)
		} else {
			remote.sets[key] = members
		}
	}
	place("setA", []string{"x", "y"})
	place("setB", []string{"y", "z"})

	s := NewShardedLookup(NewLocalLookup(local), provider, numShards, 0)
	got, err := s.RunQuery(context.Background(), "setA | setB")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "z"}, got)
}

func TestPadPayload(t *testing.T) {
	small := PadPayload([]byte(`{"keys":["a"]}`))
	require.Len(t, small, 128)

	big := PadPayload(make([]byte, 129))
	require.Len(t, big, 256)

	// Padding stays JSON-parseable.
	parsed, err := proto.ParseInternalLookupRequest(PadPayload([]byte(`{"keys":["a"]}`)))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, parsed.Keys)
}
