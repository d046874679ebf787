// Package sharding tracks which replicas serve which shard and hands
// out lookup clients for the internal fan-out.
package sharding

import (
	"math/rand"
	"sync/atomic"

	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/lookup"
	"github.com/oblivkv/kvserver/proto"
)

// ClientFactory builds or reuses a lookup client for a replica address.
type ClientFactory interface {
	ClientForAddress(addr string) (lookup.RemoteClient, error)
}

// ShardManager holds the current shard-to-replicas mapping. Reads take
// an atomic snapshot, so lookups racing a mapping swap see either the
// old or the new mapping, never a mix.
type ShardManager struct {
	numShards int32
	factory   ClientFactory
	state     atomic.Value // [][]string, replica addresses per shard
}

func NewShardManager(numShards int32, factory ClientFactory) *ShardManager {
	return &ShardManager{numShards: numShards, factory: factory}
}

// Create validates and installs a new mapping. Every shard must have at
// least one replica; a partial mapping is rejected and the previous one
// stays in effect.
func (m *ShardManager) Create(mappings [][]string) error {
	if int32(len(mappings)) != m.numShards {
		return apierrors.Internal("Failed to generate shard mappings")
	}
	snapshot := make([][]string, len(mappings))
	for i, replicas := range mappings {
		if len(replicas) == 0 {
			return apierrors.Internal("Failed to generate shard mappings")
		}
		snapshot[i] = append([]string(nil), replicas...)
	}
	m.state.Store(snapshot)
	return nil
}

// ClientForShard picks a random replica of the shard and returns a
// client for it.
func (m *ShardManager) ClientForShard(shard proto.ShardID) (lookup.RemoteClient, error) {
	state, _ := m.state.Load().([][]string)
	if state == nil || shard < 0 || int(shard) >= len(state) {
		return nil, apierrors.ErrShardNotAvailable
	}
	replicas := state[shard]
	return m.factory.ClientForAddress(replicas[rand.Intn(len(replicas))])
}

// NumShards returns the mapping width the manager was built for.
func (m *ShardManager) NumShards() int32 { return m.numShards }
