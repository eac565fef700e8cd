package index

import (
	"hash/fnv"
	"sync"
)

// IndexEntry locates one event: the tenant and partition it belongs to, the
// columnar batch (or "" for a still-unflushed row) and offset within it,
// and its timestamp for ordering (§4.1, §4.5).
type IndexEntry struct {
	TenantID        string
	Partition       int
	BatchID         string
	OffsetInBatch   int
	TimestampMicros int64
}

const shardCount = 64

// shardedMap is a bucket-sharded map[string][]IndexEntry: each bucket has
// its own RWMutex so scans of one key never block appends to a key in
// another bucket (§4.5: "bucket-level fine-grained synchronization").
type shardedMap struct {
	shards [shardCount]shard
}

type shard struct {
	mu   sync.RWMutex
	data map[string][]IndexEntry
}

func newShardedMap() *shardedMap {
	m := &shardedMap{}
	for i := range m.shards {
		m.shards[i].data = make(map[string][]IndexEntry)
	}
	return m
}

func bucketFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

// Append adds one entry to key's list. Appends to the same key are
// serialized by the bucket's lock; appends to different keys in the same
// bucket still briefly contend, which is the accepted cost of fixed
// sharding.
func (m *shardedMap) Append(key string, entry IndexEntry) {
	s := &m.shards[bucketFor(key)]
	s.mu.Lock()
	s.data[key] = append(s.data[key], entry)
	s.mu.Unlock()
}

// Snapshot returns the current list for key, up to its length at the
// moment of the call — a scanner sees either an entry or its absence,
// never a partially appended one, because append only ever grows the
// slice under the bucket lock (§4.5).
func (m *shardedMap) Snapshot(key string) []IndexEntry {
	s := &m.shards[bucketFor(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.data[key]
	out := make([]IndexEntry, len(entries))
	copy(out, entries)
	return out
}

// Len returns the number of entries across all keys, used for metrics.
func (m *shardedMap) Len() int {
	total := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for _, v := range s.data {
			total += len(v)
		}
		s.mu.RUnlock()
	}
	return total
}

// Keys returns every key with at least one entry, for C7's stats() and
// full-scan fallback when neither index narrows the candidate set.
func (m *shardedMap) Keys() []string {
	var keys []string
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k := range s.data {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	return keys
}

// DeleteTenant drops every entry belonging to tenantID across every key's
// list. This is the sole exception to "indexes are monotonically
// populated" (I4): tenant purge is the only caller.
func (m *shardedMap) DeleteTenant(tenantID string) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, entries := range s.data {
			kept := entries[:0]
			for _, e := range entries {
				if e.TenantID != tenantID {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				delete(s.data, k)
			} else {
				s.data[k] = kept
			}
		}
		s.mu.Unlock()
	}
}
