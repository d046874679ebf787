package dataloading

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/oblivkv/kvserver/cache"
	apierrors "github.com/oblivkv/kvserver/errors"
	"github.com/oblivkv/kvserver/metrics"
	"github.com/oblivkv/kvserver/proto"
	"github.com/oblivkv/kvserver/udf"
)

// UDFLoader is the part of the UDF client ingestion needs.
type UDFLoader interface {
	SetCodeObject(cfg udf.CodeConfig) error
}

// Applier turns delta records into cache mutations and UDF code
// swaps. Safe for concurrent use, so it can sit behind the concurrent
// reader.
type Applier struct {
	cache cache.Cache
	udf   UDFLoader

	// onShardMapping, when set, receives logical shard remappings.
	onShardMapping func(shard proto.ShardID)
}

func NewApplier(c cache.Cache, u UDFLoader) *Applier {
	return &Applier{cache: c, udf: u}
}

// OnShardMapping registers a callback for shard mapping records.
func (a *Applier) OnShardMapping(fn func(shard proto.ShardID)) {
	a.onShardMapping = fn
}

// Apply dispatches one record.
func (a *Applier) Apply(rec *proto.DeltaFileRecord) error {
	defer metrics.DeltaRecordsLoaded.Inc()
	switch rec.Kind {
	case proto.DeltaRecordKindKVMutation:
		return a.applyMutation(rec)
	case proto.DeltaRecordKindUDFConfig:
		return a.udf.SetCodeObject(udf.CodeConfig{
			JS:                rec.Js,
			WASM:              rec.Wasm,
			UDFHandlerName:    rec.HandlerName,
			Version:           int64(rec.Version),
			LogicalCommitTime: rec.LogicalCommitTime,
		})
	case proto.DeltaRecordKindShardMapping:
		if a.onShardMapping != nil {
			a.onShardMapping(rec.ShardNum)
		}
		return nil
	default:
		return apierrors.Newf(apierrors.CodeInvalidArgument, "unknown record kind %d", rec.Kind)
	}
}

func (a *Applier) applyMutation(rec *proto.DeltaFileRecord) error {
	switch rec.MutationType {
	case proto.MutationTypeUpdate:
		if len(rec.SetValues) > 0 {
			a.cache.UpdateKeyValueSet(rec.Key, rec.SetValues, rec.LogicalCommitTime)
		} else {
			a.cache.UpdateKeyValue(rec.Key, rec.Value, rec.LogicalCommitTime)
		}
	case proto.MutationTypeDelete:
		if len(rec.SetValues) > 0 {
			a.cache.DeleteValuesInSet(rec.Key, rec.SetValues, rec.LogicalCommitTime)
		} else {
			a.cache.DeleteKey(rec.Key, rec.LogicalCommitTime)
		}
	default:
		return apierrors.Newf(apierrors.CodeInvalidArgument, "unknown mutation type %d", rec.MutationType)
	}
	return nil
}

// LoaderConfig scopes ingestion to this node's shard.
type LoaderConfig struct {
	ShardNum  proto.ShardID `json:"shard_num"`
	NumShards int32         `json:"num_shards"`
}

// FilterByShard wraps a callback so records for other shards are
// dropped. Unsharded files (num_shards <= 1 in the metadata) pass
// through untouched.
func FilterByShard(ctx context.Context, cfg LoaderConfig, meta *proto.DeltaFileMetadata, callback RecordCallback) RecordCallback {
	if cfg.NumShards <= 1 || meta.NumShards <= 1 {
		return callback
	}
	if meta.ShardNum != cfg.ShardNum {
		trace.SpanFromContextSafe(ctx).Warnf(
			"delta file for shard %d loaded on shard %d, dropping records",
			meta.ShardNum, cfg.ShardNum)
		return func(*proto.DeltaFileRecord) error { return nil }
	}
	return callback
}
