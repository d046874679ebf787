package sharding

import (
	"context"

	"github.com/oblivkv/kvserver/proto"
)

// StaticInstance is one configured peer address.
type StaticInstance struct {
	Shard proto.ShardID `json:"shard"`
	Addr  string        `json:"addr"`
}

// StaticInstanceClient serves a fixed peer list from configuration,
// for deployments without an instance inventory service.
type StaticInstanceClient struct {
	instances []Instance
}

func NewStaticInstanceClient(peers []StaticInstance) *StaticInstanceClient {
	instances := make([]Instance, 0, len(peers))
	for _, peer := range peers {
		instances = append(instances, Instance{
			Shard:     peer.Shard,
			PrivateIP: peer.Addr,
			State:     InstanceStateHealthy,
		})
	}
	return &StaticInstanceClient{instances: instances}
}

func (c *StaticInstanceClient) ListInstances(ctx context.Context) ([]Instance, error) {
	out := make([]Instance, len(c.instances))
	copy(out, c.instances)
	return out, nil
}
