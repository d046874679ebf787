package sharding

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/singleflight"

	"github.com/oblivkv/kvserver/proto"
)

// InstanceStateHealthy marks instances eligible for lookup traffic.
const InstanceStateHealthy = "HEALTHY"

// Instance is one replica as reported by the cluster's instance source.
type Instance struct {
	Shard     proto.ShardID
	PrivateIP string
	State     string
}

// InstanceClient enumerates the cluster's replicas. Implementations
// wrap whatever inventory the deployment has.
type InstanceClient interface {
	ListInstances(ctx context.Context) ([]Instance, error)
}

type ClusterMappingsConfig struct {
	// RefreshIntervalS is the polling interval in seconds.
	RefreshIntervalS int `json:"refresh_interval_s"`
}

// ClusterMappingsManager polls the instance source and installs the
// resulting shard mapping into the shard manager. Concurrent refresh
// requests collapse into one poll.
type ClusterMappingsManager struct {
	cfg     ClusterMappingsConfig
	client  InstanceClient
	manager *ShardManager

	group  singleflight.Group
	closer context.CancelFunc
	done   chan struct{}
}

func NewClusterMappingsManager(cfg ClusterMappingsConfig, client InstanceClient, manager *ShardManager) *ClusterMappingsManager {
	if cfg.RefreshIntervalS <= 0 {
		cfg.RefreshIntervalS = 10
	}
	return &ClusterMappingsManager{
		cfg:     cfg,
		client:  client,
		manager: manager,
		done:    make(chan struct{}),
	}
}

// Start performs one synchronous refresh, then keeps polling in the
// background until Close.
func (m *ClusterMappingsManager) Start(ctx context.Context) error {
	if err := m.Refresh(ctx); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.closer = cancel
	go m.loop(loopCtx)
	return nil
}

func (m *ClusterMappingsManager) loop(ctx context.Context) {
	defer close(m.done)
	span, ctx := trace.StartSpanFromContext(ctx, "cluster-mappings")
	ticker := time.NewTicker(time.Duration(m.cfg.RefreshIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				span.Warnf("refresh cluster mappings: %v", err)
			}
		}
	}
}

// Refresh polls the instance source once and swaps in the new mapping.
func (m *ClusterMappingsManager) Refresh(ctx context.Context) error {
	_, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		mappings, err := m.GetClusterMappings(ctx)
		if err != nil {
			return nil, err
		}
		return nil, m.manager.Create(mappings)
	})
	return err
}

// GetClusterMappings groups healthy instances by shard.
func (m *ClusterMappingsManager) GetClusterMappings(ctx context.Context) ([][]string, error) {
	instances, err := m.client.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	mappings := make([][]string, m.manager.NumShards())
	for _, inst := range instances {
		if inst.State != InstanceStateHealthy {
			continue
		}
		if inst.Shard < 0 || int(inst.Shard) >= len(mappings) {
			continue
		}
		mappings[inst.Shard] = append(mappings[inst.Shard], inst.PrivateIP)
	}
	return mappings, nil
}

// Close stops the polling loop and waits for it to exit.
func (m *ClusterMappingsManager) Close() {
	if m.closer != nil {
		m.closer()
		<-m.done
	}
}
