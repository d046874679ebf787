// Copyright 2024 The OblivKV Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package server wires the cache, UDF runtime, sharded lookup, and
// data loading together and serves them over gRPC and HTTP.
package server

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/oblivkv/kvserver/cache"
	"github.com/oblivkv/kvserver/dataloading"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/handler"
	"github.com/oblivkv/kvserver/hpkekeys"
	"github.com/oblivkv/kvserver/lookup"
	"github.com/oblivkv/kvserver/ohttp"
	"github.com/oblivkv/kvserver/sharding"
	"github.com/oblivkv/kvserver/udf"
	"github.com/oblivkv/kvserver/util/limiter"
)

const (
	defaultHTTPPort   = 51052
	defaultGRPCPort   = 50051
	defaultLookupPort = 50050

	// DeltaFileSuffix marks loadable files in the delta directory.
	DeltaFileSuffix = ".delta"
)

type Config struct {
	ShardNum  int32 `json:"shard_num"`
	NumShards int32 `json:"num_shards"`

	HTTPPort   int `json:"http_port"`
	GRPCPort   int `json:"grpc_port"`
	LookupPort int `json:"lookup_port"`

	// DeltaDir is scanned for *.delta files at startup, in name order.
	DeltaDir string `json:"delta_dir"`

	// LoadWorkers is the per-file concurrency of the startup load.
	LoadWorkers int `json:"load_workers"`

	UDF             udf.Config                     `json:"udf"`
	Limiter         limiter.Config                 `json:"limiter"`
	ClusterMappings sharding.ClusterMappingsConfig `json:"cluster_mappings"`
}

func (cfg *Config) fixDefaults() {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 1
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = defaultHTTPPort
	}
	if cfg.GRPCPort == 0 {
		cfg.GRPCPort = defaultGRPCPort
	}
	if cfg.LookupPort == 0 {
		cfg.LookupPort = defaultLookupPort
	}
	if cfg.LoadWorkers <= 0 {
		cfg.LoadWorkers = 2
	}
	if cfg.Limiter.Concurrency == 0 {
		cfg.Limiter.Concurrency = 4
	}
}

// Server owns every serving component of one replica.
type Server struct {
	cfg Config

	cache    cache.Cache
	keys     hpkekeys.KeyFetcherManager
	gateway  *ohttp.Gateway
	udf      *udf.Client
	local    *lookup.LocalLookup
	handler  *handler.GetValuesV2Handler
	applier  *dataloading.Applier
	lim      limiter.Limiter
	factory  *sharding.GRPCClientFactory
	shards   *sharding.ShardManager
	mappings *sharding.ClusterMappingsManager
}

// NewServer builds a replica. instances may be nil for single-shard
// deployments; sharded ones need it to discover their peers.
func NewServer(cfg Config, keys hpkekeys.KeyFetcherManager, instances sharding.InstanceClient) (*Server, error) {
	cfg.fixDefaults()
	if cfg.ShardNum < 0 || cfg.ShardNum >= cfg.NumShards {
		return nil, apierrors.Newf(apierrors.CodeInvalidArgument,
			"shard_num %d out of range for %d shards", cfg.ShardNum, cfg.NumShards)
	}

	s := &Server{
		cfg:   cfg,
		cache: cache.New(),
		keys:  keys,
		lim:   limiter.NewLimiter(cfg.Limiter),
	}
	s.gateway = ohttp.NewGateway(keys)

	hooks := udf.NewHooks()
	s.udf = udf.NewClient(cfg.UDF, hooks)
	if err := s.udf.SetCodeObject(udf.DefaultCodeConfig()); err != nil {
		return nil, err
	}

	s.local = lookup.NewLocalLookup(s.cache)
	if cfg.NumShards > 1 {
		if instances == nil {
			return nil, apierrors.InvalidArgument("sharded deployment needs an instance source")
		}
		s.factory = sharding.NewGRPCClientFactory(keys, cfg.LookupPort)
		s.shards = sharding.NewShardManager(cfg.NumShards, s.factory)
		s.mappings = sharding.NewClusterMappingsManager(cfg.ClusterMappings, instances, s.shards)
		hooks.SetLookup(lookup.NewShardedLookup(s.local, s.shards, cfg.NumShards, cfg.ShardNum))
	} else {
		hooks.SetLookup(s.local)
	}

	s.handler = handler.NewGetValuesV2Handler(s.udf, s.gateway)
	s.applier = dataloading.NewApplier(s.cache, s.udf)
	return s, nil
}

// Start brings up cluster discovery and loads the delta directory.
func (s *Server) Start(ctx context.Context) error {
	if s.mappings != nil {
		if err := s.mappings.Start(ctx); err != nil {
			return err
		}
	}
	if s.cfg.DeltaDir != "" {
		if err := s.LoadDeltaDir(ctx, s.cfg.DeltaDir); err != nil {
			return err
		}
	}
	return nil
}

// LoadDeltaDir loads every delta file under dir in name order; delta
// file names carry their logical timestamp, so name order is commit
// order.
func (s *Server) LoadDeltaDir(ctx context.Context, dir string) error {
	span := trace.SpanFromContextSafe(ctx)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), DeltaFileSuffix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.LoadDeltaFile(ctx, filepath.Join(dir, name)); err != nil {
			return err
		}
		span.Infof("loaded delta file %s", name)
	}
	return nil
}

// LoadDeltaFile reads one delta file into the cache with the
// concurrent reader, bounded by the ingestion limiter.
func (s *Server) LoadDeltaFile(ctx context.Context, path string) error {
	if err := s.lim.Acquire(); err != nil {
		return apierrors.Unavailable(err.Error())
	}
	defer s.lim.Release()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	meta, _, err := dataloading.ReadHeader(f)
	if err != nil {
		return err
	}
	callback := dataloading.FilterByShard(ctx, dataloading.LoaderConfig{
		ShardNum:  s.cfg.ShardNum,
		NumShards: s.cfg.NumShards,
	}, meta, s.applier.Apply)

	reader := dataloading.NewConcurrentStreamRecordReader(f, info.Size(),
		dataloading.WithWorkers(s.cfg.LoadWorkers),
		dataloading.WithLimiter(s.lim))
	_, err = reader.ReadStreamRecords(ctx, callback)
	return err
}

// RemoveDeletedKeys delegates tombstone cleanup to the cache.
func (s *Server) RemoveDeletedKeys(logicalCommitTime int64) {
	s.cache.RemoveDeletedKeys(logicalCommitTime)
}

// Close releases background loops and peer connections.
func (s *Server) Close() {
	if s.mappings != nil {
		s.mappings.Close()
	}
	if s.factory != nil {
		s.factory.Close()
	}
}
