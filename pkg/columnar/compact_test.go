package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactPartitionMergesSmallFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Config{FlushRows: 1})
	require.NoError(t, err)

	var day string
	for i := 0; i < 4; i++ {
		e := testEvent(t, "s1", int64(i+1), 1000+int64(i))
		day = e.Timestamp().Format("2006-01-02")
		_, flushed, err := store.Append("tenant-a", 0, e)
		require.NoError(t, err)
		// The flush check runs before the append, so the first append never flushes.
		require.Equal(t, i > 0, flushed)
	}
	_, err = store.FlushPartition("tenant-a", day, 0)
	require.NoError(t, err)

	k := key{tenant: "tenant-a", day: day, partition: 0}
	before := len(store.catalog.ranges[k])
	require.GreaterOrEqual(t, before, 4)

	ok, err := store.CompactPartition("tenant-a", day, 0, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	after := store.catalog.ranges[k]
	require.Len(t, after, 1)
	assert.Equal(t, int64(0), after[0].start)
	assert.Equal(t, 4, after[0].rowCount)
}

func TestCompactPartitionPreservesEventResolution(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Config{FlushRows: 1})
	require.NoError(t, err)

	var day string
	var seqs []int64
	var ids []string
	for i := 0; i < 3; i++ {
		e := testEvent(t, "s1", int64(i+1), 1000+int64(i))
		day = e.Timestamp().Format("2006-01-02")
		seq, _, err := store.Append("tenant-a", 0, e)
		require.NoError(t, err)
		seqs = append(seqs, seq)
		ids = append(ids, e.ID.String())
	}

	_, err = store.FlushPartition("tenant-a", day, 0)
	require.NoError(t, err)
	_, err = store.CompactPartition("tenant-a", day, 0, 2)
	require.NoError(t, err)

	k := key{tenant: "tenant-a", day: day, partition: 0}
	for i, seq := range seqs {
		batchID, row, ok := store.catalog.resolve(k, seq)
		require.True(t, ok)
		cf, ok := store.catalog.file(batchID)
		require.True(t, ok)
		evt, err := cf.eventAt(row)
		require.NoError(t, err)
		assert.Equal(t, ids[i], evt.ID.String())
	}
}

func TestCompactPartitionSkipsWhenBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Config{FlushRows: 1})
	require.NoError(t, err)

	e := testEvent(t, "s1", 1, 1000)
	day := e.Timestamp().Format("2006-01-02")
	_, _, err = store.Append("tenant-a", 0, e)
	require.NoError(t, err)
	_, err = store.FlushPartition("tenant-a", day, 0)
	require.NoError(t, err)

	ok, err := store.CompactPartition("tenant-a", day, 0, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}
