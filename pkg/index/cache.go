package index

import (
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/cuemby/eventcore/pkg/event"
)

// Fetcher resolves one IndexEntry to its event, reading the live row
// buffer for an unflushed entry or a columnar file otherwise (§4.3
// fetch(location)). Implemented by pkg/columnar.
type Fetcher interface {
	Fetch(entry IndexEntry) (*event.Event, error)
}

// Cache is a bounded read-through cache in front of a Fetcher, avoiding a
// columnar file read for entries fetched repeatedly in a short window
// (e.g. hot entity state reconstruction).
type Cache struct {
	fetcher Fetcher
	cache   *ristretto.Cache
}

// NewCache wraps fetcher with a ristretto cache sized for maxCost bytes of
// cached events (cost is approximated as payload length).
func NewCache(fetcher Fetcher, maxCost int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost / 100 * 10, // ~10x expected entry count, per ristretto's sizing guidance
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("index: create cache: %w", err)
	}
	return &Cache{fetcher: fetcher, cache: c}, nil
}

// cacheKey must stay unique across tenants and days even for unflushed
// entries, where BatchID is empty and OffsetInBatch is only a sequence
// number within one (tenant, day, partition) buffer (see columnar's
// live-row Fetch), not a globally unique offset; the timestamp keeps two
// days' buffers apart.
func cacheKey(entry IndexEntry) string {
	return fmt.Sprintf("%s/%s/%d/%d/%d", entry.TenantID, entry.BatchID, entry.Partition, entry.OffsetInBatch, entry.TimestampMicros)
}

// Fetch returns entry's event, checking the cache before falling through to
// the underlying Fetcher and populating the cache on miss.
func (c *Cache) Fetch(entry IndexEntry) (*event.Event, error) {
	key := cacheKey(entry)
	if v, ok := c.cache.Get(key); ok {
		return v.(*event.Event), nil
	}

	evt, err := c.fetcher.Fetch(entry)
	if err != nil {
		return nil, err
	}

	cost := int64(len(evt.Payload) + len(evt.Metadata) + 64)
	c.cache.Set(key, evt, cost)
	return evt, nil
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.cache.Close()
}
