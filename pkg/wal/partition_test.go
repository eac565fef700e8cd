package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/config"
	"github.com/cuemby/eventcore/pkg/event"
)

func frameFor(t *testing.T, n int) Frame {
	t.Helper()
	evt, err := event.New(event.Request{
		TenantID: "tenant-a",
		StreamID: "stream-1",
		Type:     "order.created",
		EntityID: "order-1",
		Payload:  json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
	}, 0)
	require.NoError(t, err)
	return Frame{TenantID: "tenant-a", StreamID: "stream-1", Event: evt}
}

func openTestPartition(t *testing.T, cfg Config) (*Partition, string) {
	t.Helper()
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, cfg)
	require.NoError(t, err)
	return p, dir
}

func TestAppendAssignsSequentialLSNs(t *testing.T) {
	p, _ := openTestPartition(t, Config{SyncMode: config.SyncModeBatch, BatchN: 8, BatchMs: 2})
	defer p.Close()

	for i := 0; i < 10; i++ {
		lsn, err := p.Append(frameFor(t, i))
		require.NoError(t, err)
		assert.Equal(t, int64(i), lsn)
	}
}

func TestConcurrentAppendsProduceGaplessLSNs(t *testing.T) {
	p, _ := openTestPartition(t, Config{SyncMode: config.SyncModeBatch, BatchN: 16, BatchMs: 5})
	defer p.Close()

	const n = 100
	lsns := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lsn, err := p.Append(frameFor(t, i))
			require.NoError(t, err)
			lsns[i] = lsn
		}(i)
	}
	wg.Wait()

	sort.Slice(lsns, func(i, j int) bool { return lsns[i] < lsns[j] })
	for i, lsn := range lsns {
		assert.Equal(t, int64(i), lsn)
	}
}

func TestSegmentRotatesAtMaxBytes(t *testing.T) {
	p, dir := openTestPartition(t, Config{SyncMode: config.SyncModeSync, BatchN: 1, BatchMs: 1, SegmentMaxBytes: 200})
	for i := 0; i < 50; i++ {
		_, err := p.Append(frameFor(t, i))
		require.NoError(t, err)
	}
	require.NoError(t, p.Close())

	indexes, err := listSegments(dir + "/wal/0")
	require.NoError(t, err)
	assert.Greater(t, len(indexes), 1)
}

func TestRecoveryTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPartition(dir, 0, Config{SyncMode: config.SyncModeSync, BatchN: 1, BatchMs: 1})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := p.Append(frameFor(t, i))
		require.NoError(t, err)
	}
	require.NoError(t, p.Close())

	segDir := dir + "/wal/0"
	indexes, err := listSegments(segDir)
	require.NoError(t, err)
	path := segmentPath(segDir, indexes[len(indexes)-1])

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x00, 0x00, 0x00, 0x10, 0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	p2, err := OpenPartition(dir, 0, Config{SyncMode: config.SyncModeSync, BatchN: 1, BatchMs: 1})
	require.NoError(t, err)
	defer p2.Close()

	lsn, err := p2.Append(frameFor(t, 99))
	require.NoError(t, err)
	assert.Equal(t, int64(5), lsn)
}

func TestAsyncFlushWaitsForQueuedAppends(t *testing.T) {
	p, _ := openTestPartition(t, Config{SyncMode: config.SyncModeAsync, BatchN: 32, BatchMs: 20})
	defer p.Close()

	for i := 0; i < 20; i++ {
		_, err := p.Append(frameFor(t, i))
		require.NoError(t, err)
	}
	require.NoError(t, p.Flush())
}

func TestTruncateBeforeRemovesOnlyFullyCoveredSegments(t *testing.T) {
	p, dir := openTestPartition(t, Config{SyncMode: config.SyncModeSync, BatchN: 1, BatchMs: 1, SegmentMaxBytes: 200})
	for i := 0; i < 50; i++ {
		_, err := p.Append(frameFor(t, i))
		require.NoError(t, err)
	}

	before, err := listSegments(dir + "/wal/0")
	require.NoError(t, err)
	require.Greater(t, len(before), 1)

	require.NoError(t, p.TruncateBefore(p.nextLSN))

	after, err := listSegments(dir + "/wal/0")
	require.NoError(t, err)
	assert.Less(t, len(after), len(before))
	assert.Contains(t, after, p.active.index, "the active segment must never be pruned")

	require.NoError(t, p.Close())
}

func TestTruncateBeforeIsNoOpWithOnlyOneSegment(t *testing.T) {
	p, dir := openTestPartition(t, Config{SyncMode: config.SyncModeSync, BatchN: 1, BatchMs: 1})
	_, err := p.Append(frameFor(t, 0))
	require.NoError(t, err)

	require.NoError(t, p.TruncateBefore(1000))

	indexes, err := listSegments(dir + "/wal/0")
	require.NoError(t, err)
	assert.Len(t, indexes, 1)

	require.NoError(t, p.Close())
}
