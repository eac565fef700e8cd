package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/columnar"
	"github.com/cuemby/eventcore/pkg/config"
	"github.com/cuemby/eventcore/pkg/event"
	"github.com/cuemby/eventcore/pkg/eventerr"
	"github.com/cuemby/eventcore/pkg/index"
	"github.com/cuemby/eventcore/pkg/registry"
	"github.com/cuemby/eventcore/pkg/tenant"
	"github.com/cuemby/eventcore/pkg/wal"
)

const testPartitionCount = 4

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	dir := t.TempDir()

	acct, err := tenant.Open(dir, tenant.Quotas{}, tenant.RateLimitTier{Burst: 1000, RefillPerSec: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = acct.Close() })

	reg, err := registry.Open(dir, testPartitionCount)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	cfg := config.Default(dir)
	cfg.PartitionCount = testPartitionCount
	cfg.WalSyncMode = config.SyncModeSync
	w, err := wal.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	indexes := index.New()

	store, err := columnar.Open(dir, columnar.Config{FlushRows: 1000})
	require.NoError(t, err)

	return New(Config{MaxPayloadBytes: 1 << 20}, acct, reg, w, indexes, store, nil)
}

func req(entityID string) event.Request {
	return event.Request{
		TenantID: "tenant-a",
		Type:     "order.created",
		EntityID: entityID,
		Payload:  json.RawMessage(`{"amount":1}`),
	}
}

func TestIngestAssignsVersionOneToNewStream(t *testing.T) {
	p := newTestPipeline(t)
	r, err := p.Ingest(req("e1"), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Version)
}

func TestIngestVersionsIncreasePerStream(t *testing.T) {
	p := newTestPipeline(t)
	r1, err := p.Ingest(req("e1"), false)
	require.NoError(t, err)
	r2, err := p.Ingest(req("e1"), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), r1.Version)
	assert.Equal(t, int64(2), r2.Version)
}

func TestIngestDetectsVersionConflict(t *testing.T) {
	p := newTestPipeline(t)
	_, err := p.Ingest(req("e1"), false)
	require.NoError(t, err)

	bad := req("e1")
	expected := int64(0) // stale: current version is already 1
	bad.ExpectedVersion = &expected
	_, err = p.Ingest(bad, false)
	var verr *eventerr.VersionConflict
	require.ErrorAs(t, err, &verr)
}

func TestIngestPopulatesIndexesAfterDurability(t *testing.T) {
	p := newTestPipeline(t)
	r, err := p.Ingest(req("e1"), false)
	require.NoError(t, err)

	entries := p.indexes.ByEntity("e1")
	require.Len(t, entries, 1)
	assert.Equal(t, r.TimestampMicros, entries[0].TimestampMicros)

	typeEntries := p.indexes.ByType("order.created")
	require.Len(t, typeEntries, 1)
}

func TestIngestRejectsOverQuotaTenant(t *testing.T) {
	dir := t.TempDir()
	acct, err := tenant.Open(dir, tenant.Quotas{EventsPerDay: 1}, tenant.RateLimitTier{Burst: 1000, RefillPerSec: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = acct.Close() })

	reg, err := registry.Open(dir, testPartitionCount)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	cfg := config.Default(dir)
	cfg.PartitionCount = testPartitionCount
	w, err := wal.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	store, err := columnar.Open(dir, columnar.Config{FlushRows: 1000})
	require.NoError(t, err)

	p := New(Config{MaxPayloadBytes: 1 << 20}, acct, reg, w, index.New(), store, nil)

	_, err = p.Ingest(req("e1"), false)
	require.NoError(t, err)

	_, err = p.Ingest(req("e1"), false)
	var qerr *eventerr.QuotaExceeded
	require.ErrorAs(t, err, &qerr)
}

func TestIngestConcurrentSameStreamProducesGaplessVersions(t *testing.T) {
	p := newTestPipeline(t)

	const n = 50
	var wg sync.WaitGroup
	results := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.Ingest(req("hot-stream"), false)
			require.NoError(t, err)
			results[i] = r.Version
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, v := range results {
		seen[v] = true
	}
	for v := int64(1); v <= n; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}
}

func TestIngestBatchReturnsOneResultPerRequest(t *testing.T) {
	p := newTestPipeline(t)
	reqs := []event.Request{req("e1"), req("e2"), req("e3")}
	results := p.IngestBatch(context.Background(), reqs, false)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, int64(1), r.Receipt.Version)
	}
}
