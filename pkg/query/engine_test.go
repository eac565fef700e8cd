package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/columnar"
	"github.com/cuemby/eventcore/pkg/config"
	"github.com/cuemby/eventcore/pkg/event"
	"github.com/cuemby/eventcore/pkg/index"
	"github.com/cuemby/eventcore/pkg/ingest"
	"github.com/cuemby/eventcore/pkg/registry"
	"github.com/cuemby/eventcore/pkg/tenant"
	"github.com/cuemby/eventcore/pkg/wal"
)

const testPartitionCount = 4

type testHarness struct {
	pipeline *ingest.Pipeline
	indexes  *index.Indexes
	store    *columnar.Store
	engine   *Engine
}

func newTestHarness(t *testing.T) *testHarness {
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
	w, err := wal.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	indexes := index.New()
	store, err := columnar.Open(dir, columnar.Config{FlushRows: 1000})
	require.NoError(t, err)

	p := ingest.New(ingest.Config{MaxPayloadBytes: 1 << 20}, acct, reg, w, indexes, store, nil)
	e := New(indexes, store, store)

	return &testHarness{pipeline: p, indexes: indexes, store: store, engine: e}
}

func (h *testHarness) ingest(t *testing.T, tenantID, entityID, eventType string, payload string) ingest.Receipt {
	t.Helper()
	r, err := h.pipeline.Ingest(event.Request{
		TenantID: tenantID,
		Type:     eventType,
		EntityID: entityID,
		Payload:  json.RawMessage(payload),
	}, false)
	require.NoError(t, err)
	return r
}

func TestQueryByEntityReturnsOnlyTenantEvents(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, "tenant-a", "order-1", "order.created", `{"amount":10}`)
	h.ingest(t, "tenant-a", "order-1", "order.shipped", `{"amount":10}`)
	h.ingest(t, "tenant-b", "order-1", "order.created", `{"amount":99}`)

	results, err := h.engine.QueryByEntity(context.Background(), "tenant-a", "order-1", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "order.created", results[0].Type)
	assert.Equal(t, "order.shipped", results[1].Type)
}

func TestQueryByEntityAppliesFilter(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, "tenant-a", "order-1", "order.created", `{"amount":10}`)
	h.ingest(t, "tenant-a", "order-1", "order.shipped", `{"amount":10}`)

	results, err := h.engine.QueryByEntity(context.Background(), "tenant-a", "order-1", Eq("event_type", "order.shipped"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "order.shipped", results[0].Type)
}

func TestQueryByTypeNarrowsAcrossEntities(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, "tenant-a", "order-1", "order.created", `{}`)
	h.ingest(t, "tenant-a", "order-2", "order.created", `{}`)
	h.ingest(t, "tenant-a", "order-3", "order.shipped", `{}`)

	results, err := h.engine.QueryByType(context.Background(), "tenant-a", "order.created", nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestQueryRangeScanOrdersByTimestampThenStreamThenVersion(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, "tenant-a", "order-1", "order.created", `{}`)
	h.ingest(t, "tenant-a", "order-2", "order.created", `{}`)

	results, next, err := h.engine.Query(context.Background(), "tenant-a", 0, 1<<62, nil, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, results, 2)
	assert.True(t, results[0].TimestampMicros <= results[1].TimestampMicros)
}

func TestQueryRespectsLimitAndReturnsCursor(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, "tenant-a", "order-1", "order.created", `{}`)
	h.ingest(t, "tenant-a", "order-2", "order.created", `{}`)
	h.ingest(t, "tenant-a", "order-3", "order.created", `{}`)

	results, next, err := h.engine.Query(context.Background(), "tenant-a", 0, 1<<62, nil, nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NotNil(t, next)

	rest, next2, err := h.engine.Query(context.Background(), "tenant-a", 0, 1<<62, nil, next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Nil(t, next2)
}

func TestQueryReturnsTimeoutOnCancelledContext(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, "tenant-a", "order-1", "order.created", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := h.engine.Query(ctx, "tenant-a", 0, 1<<62, nil, nil, 0)
	require.Error(t, err)
}

func TestStatsCountsEventsAndDistinctKeys(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, "tenant-a", "order-1", "order.created", `{}`)
	h.ingest(t, "tenant-a", "order-1", "order.shipped", `{}`)
	h.ingest(t, "tenant-a", "order-2", "order.created", `{}`)

	stats := h.engine.Stats("tenant-a")
	assert.Equal(t, int64(3), stats.Events)
	assert.Equal(t, 2, stats.Entities)
	assert.Equal(t, 2, stats.Types)
}
