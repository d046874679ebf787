package cache

import (
	"sort"
	"sync"

	"github.com/oblivkv/kvserver/metrics"
)

// Cache is the in-memory datastore. Every mutation carries a logical
// commit time; for any key the visible state is that of the mutation with
// the greatest logical commit time applied so far.
type Cache interface {
	// GetKeyValuePairs returns the live scalar values for the given keys.
	// Keys that are absent or tombstoned are left out of the result.
	GetKeyValuePairs(keys []string) map[string]string

	// GetKeyValueSet returns the current membership of the sets stored
	// under the given keys. Missing keys map to an empty slice.
	GetKeyValueSet(keys []string) map[string][]string

	UpdateKeyValue(key, value string, logicalCommitTime int64)
	UpdateKeyValueSet(key string, values []string, logicalCommitTime int64)
	DeleteKey(key string, logicalCommitTime int64)
	DeleteValuesInSet(key string, values []string, logicalCommitTime int64)

	// RemoveDeletedKeys drops tombstones whose logical commit time is at
	// or below the given bound.
	RemoveDeletedKeys(logicalCommitTime int64)
}

const defaultSplitMapNum = 32

type cacheValue struct {
	value             *string // nil marks a tombstone kept for late arrivals
	logicalCommitTime int64
}

type setValueMeta struct {
	logicalCommitTime int64
	deleted           bool
}

type deletedNode struct {
	key               string
	logicalCommitTime int64
}

type deletedSetValue struct {
	key               string
	value             string
	logicalCommitTime int64
}

type shardedBucket struct {
	mu            sync.RWMutex
	kv            map[string]cacheValue
	deleted       []deletedNode
	maxCleanupLCT int64

	setMu            sync.RWMutex
	sets             map[string]map[string]setValueMeta
	deletedSetValues []deletedSetValue
	maxCleanupSetLCT int64
}

// KeyValueCache shards its entries across buckets keyed by a cheap byte
// sum to reduce write contention; max-LCT monotonicity holds per key, so
// bucketing does not affect visibility.
type KeyValueCache struct {
	num     uint32
	buckets []*shardedBucket
}

func New() *KeyValueCache {
	c := &KeyValueCache{
		num:     defaultSplitMapNum,
		buckets: make([]*shardedBucket, defaultSplitMapNum),
	}
	for i := range c.buckets {
		c.buckets[i] = &shardedBucket{
			kv:   make(map[string]cacheValue),
			sets: make(map[string]map[string]setValueMeta),
		}
	}
	return c
}

func (c *KeyValueCache) bucket(key string) *shardedBucket {
	return c.buckets[keyCharSum(key)%c.num]
}

func (c *KeyValueCache) GetKeyValuePairs(keys []string) map[string]string {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		b := c.bucket(key)
		b.mu.RLock()
		cv, ok := b.kv[key]
		b.mu.RUnlock()
		if ok && cv.value != nil {
			result[key] = *cv.value
			metrics.CacheKeyHits.Inc()
		} else {
			metrics.CacheKeyMisses.Inc()
		}
	}
	return result
}

func (c *KeyValueCache) GetKeyValueSet(keys []string) map[string][]string {
	result := make(map[string][]string, len(keys))
	for _, key := range keys {
		b := c.bucket(key)
		b.setMu.RLock()
		members := make([]string, 0, len(b.sets[key]))
		for v, meta := range b.sets[key] {
			if !meta.deleted {
				members = append(members, v)
			}
		}
		b.setMu.RUnlock()
		sort.Strings(members)
		result[key] = members
	}
	return result
}

func (c *KeyValueCache) UpdateKeyValue(key, value string, logicalCommitTime int64) {
	b := c.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if logicalCommitTime <= b.maxCleanupLCT {
		return
	}
	if cv, ok := b.kv[key]; ok && cv.logicalCommitTime >= logicalCommitTime {
		return
	}
	v := value
	b.kv[key] = cacheValue{value: &v, logicalCommitTime: logicalCommitTime}
}

func (c *KeyValueCache) DeleteKey(key string, logicalCommitTime int64) {
	b := c.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if logicalCommitTime <= b.maxCleanupLCT {
		return
	}
	if cv, ok := b.kv[key]; ok && cv.logicalCommitTime > logicalCommitTime {
		return
	}
	b.kv[key] = cacheValue{value: nil, logicalCommitTime: logicalCommitTime}
	b.deleted = append(b.deleted, deletedNode{key: key, logicalCommitTime: logicalCommitTime})
}

func (c *KeyValueCache) UpdateKeyValueSet(key string, values []string, logicalCommitTime int64) {
	b := c.bucket(key)
	b.setMu.Lock()
	defer b.setMu.Unlock()
	if logicalCommitTime <= b.maxCleanupSetLCT {
		return
	}
	inner := b.sets[key]
	if inner == nil {
		inner = make(map[string]setValueMeta, len(values))
		b.sets[key] = inner
	}
	for _, v := range values {
		if meta, ok := inner[v]; ok && meta.logicalCommitTime >= logicalCommitTime {
			continue
		}
		inner[v] = setValueMeta{logicalCommitTime: logicalCommitTime}
	}
}

func (c *KeyValueCache) DeleteValuesInSet(key string, values []string, logicalCommitTime int64) {
	b := c.bucket(key)
	b.setMu.Lock()
	defer b.setMu.Unlock()
	if logicalCommitTime <= b.maxCleanupSetLCT {
		return
	}
	inner := b.sets[key]
	if inner == nil {
		inner = make(map[string]setValueMeta, len(values))
		b.sets[key] = inner
	}
	for _, v := range values {
		if meta, ok := inner[v]; ok && meta.logicalCommitTime >= logicalCommitTime {
			continue
		}
		inner[v] = setValueMeta{logicalCommitTime: logicalCommitTime, deleted: true}
		b.deletedSetValues = append(b.deletedSetValues,
			deletedSetValue{key: key, value: v, logicalCommitTime: logicalCommitTime})
	}
}

func (c *KeyValueCache) RemoveDeletedKeys(logicalCommitTime int64) {
	for _, b := range c.buckets {
		b.cleanupKV(logicalCommitTime)
		b.cleanupSets(logicalCommitTime)
	}
}

func (b *shardedBucket) cleanupKV(logicalCommitTime int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logicalCommitTime <= b.maxCleanupLCT {
		return
	}
	kept := b.deleted[:0]
	for _, node := range b.deleted {
		if node.logicalCommitTime > logicalCommitTime {
			kept = append(kept, node)
			continue
		}
		// The tombstone may have been superseded by a newer update.
		if cv, ok := b.kv[node.key]; ok && cv.value == nil && cv.logicalCommitTime == node.logicalCommitTime {
			delete(b.kv, node.key)
		}
	}
	b.deleted = kept
	b.maxCleanupLCT = logicalCommitTime
}

func (b *shardedBucket) cleanupSets(logicalCommitTime int64) {
	b.setMu.Lock()
	defer b.setMu.Unlock()
	if logicalCommitTime <= b.maxCleanupSetLCT {
		return
	}
	kept := b.deletedSetValues[:0]
	for _, node := range b.deletedSetValues {
		if node.logicalCommitTime > logicalCommitTime {
			kept = append(kept, node)
			continue
		}
		inner := b.sets[node.key]
		if meta, ok := inner[node.value]; ok && meta.deleted && meta.logicalCommitTime == node.logicalCommitTime {
			delete(inner, node.value)
			if len(inner) == 0 {
				delete(b.sets, node.key)
			}
		}
	}
	b.deletedSetValues = kept
	b.maxCleanupSetLCT = logicalCommitTime
}

func keyCharSum(key string) (ret uint32) {
	for i := range key {
		ret += uint32(key[i])
	}
	return
}
