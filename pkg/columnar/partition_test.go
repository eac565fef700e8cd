package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendBuffersUntilFlushThreshold(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Config{FlushRows: 3})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e := testEvent(t, "s1", int64(i+1), 1000+int64(i))
		seq, flushed, err := store.Append("tenant-a", 0, e)
		require.NoError(t, err)
		assert.False(t, flushed)
		assert.Equal(t, int64(i), seq)
	}

	// Appending past the 3rd row triggers a flush of the first 3 rows.
	e := testEvent(t, "s1", 4, 1003)
	_, flushed, err := store.Append("tenant-a", 0, e)
	require.NoError(t, err)
	assert.True(t, flushed)
}

func TestAppendIsFetchableBeforeFlush(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Config{FlushRows: 1000})
	require.NoError(t, err)

	e := testEvent(t, "s1", 1, 1000)
	seq, _, err := store.Append("tenant-a", 0, e)
	require.NoError(t, err)

	k := key{tenant: "tenant-a", day: e.Timestamp().Format("2006-01-02"), partition: 0}
	got, ok := store.liveEventAt(k, seq)
	require.True(t, ok)
	assert.Equal(t, e.ID, got.ID)
}

func TestFlushPartitionWritesFileAndResolvesViaCatalog(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Config{FlushRows: 1000})
	require.NoError(t, err)

	e1 := testEvent(t, "s1", 1, 1000)
	e2 := testEvent(t, "s1", 2, 2000)
	seq1, _, err := store.Append("tenant-a", 0, e1)
	require.NoError(t, err)
	seq2, _, err := store.Append("tenant-a", 0, e2)
	require.NoError(t, err)

	day := e1.Timestamp().Format("2006-01-02")
	batchID, err := store.FlushPartition("tenant-a", day, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, batchID)

	k := key{tenant: "tenant-a", day: day, partition: 0}
	_, ok := store.liveEventAt(k, seq1)
	assert.False(t, ok, "flushed rows are no longer in the live buffer")

	gotBatchID, row, ok := store.catalog.resolve(k, seq1)
	require.True(t, ok)
	assert.Equal(t, batchID, gotBatchID)
	assert.Equal(t, 0, row)

	gotBatchID2, row2, ok := store.catalog.resolve(k, seq2)
	require.True(t, ok)
	assert.Equal(t, batchID, gotBatchID2)
	assert.Equal(t, 1, row2)
}

func TestSequenceNumbersNeverResetAcrossFlushes(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Config{FlushRows: 2})
	require.NoError(t, err)

	var seqs []int64
	for i := 0; i < 5; i++ {
		e := testEvent(t, "s1", int64(i+1), 1000+int64(i))
		seq, _, err := store.Append("tenant-a", 0, e)
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}

	for i, seq := range seqs {
		assert.Equal(t, int64(i), seq)
	}
}

func TestReopenResumesSequenceAndBatchNumbering(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Config{FlushRows: 1})
	require.NoError(t, err)

	e1 := testEvent(t, "s1", 1, 1000)
	_, flushed, err := store.Append("tenant-a", 0, e1)
	require.NoError(t, err)
	assert.False(t, flushed) // first append never triggers the pre-append flush check

	day := e1.Timestamp().Format("2006-01-02")
	_, err = store.FlushPartition("tenant-a", day, 0)
	require.NoError(t, err)

	reopened, err := Open(dir, Config{FlushRows: 1})
	require.NoError(t, err)

	e2 := testEvent(t, "s1", 2, 2000)
	seq, _, err := reopened.Append("tenant-a", 0, e2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "sequence continues from the rebuilt catalog, not zero")

	batchID, err := reopened.FlushPartition("tenant-a", day, 0)
	require.NoError(t, err)
	assert.Contains(t, batchID, "batch-0000000001.col", "batch numbering continues past the pre-existing file")
}
