package index

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendEntityThenByEntity(t *testing.T) {
	ix := New()
	ix.AppendEntity("order-1", IndexEntry{Partition: 1, BatchID: "b1", OffsetInBatch: 0, TimestampMicros: 100})
	ix.AppendEntity("order-1", IndexEntry{Partition: 1, BatchID: "b1", OffsetInBatch: 1, TimestampMicros: 200})

	entries := ix.ByEntity("order-1")
	assert.Len(t, entries, 2)
	assert.Equal(t, int64(100), entries[0].TimestampMicros)
	assert.Equal(t, int64(200), entries[1].TimestampMicros)
}

func TestByEntityUnknownKeyReturnsEmpty(t *testing.T) {
	ix := New()
	assert.Empty(t, ix.ByEntity("missing"))
}

func TestAppendTypeIsIndependentFromEntityIndex(t *testing.T) {
	ix := New()
	ix.AppendType("order.created", IndexEntry{BatchID: "b1"})
	assert.Len(t, ix.ByType("order.created"), 1)
	assert.Empty(t, ix.ByEntity("order.created"))
}

func TestConcurrentAppendsToSameKeyDoNotLoseEntries(t *testing.T) {
	ix := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				ix.AppendEntity("entity", IndexEntry{OffsetInBatch: i*20 + j})
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, ix.ByEntity("entity"), 1000)
	assert.Equal(t, 1000, ix.EntityCount())
}
