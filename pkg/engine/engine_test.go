package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/config"
	"github.com/cuemby/eventcore/pkg/event"
	"github.com/cuemby/eventcore/pkg/eventerr"
	"github.com/cuemby/eventcore/pkg/tenant"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.PartitionCount = 4

	e, err := Open(cfg, Options{
		DefaultRateLimitTier: tenant.RateLimitTier{Burst: 10000, RefillPerSec: 10000},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestHappyPathVersionsAndStateAsOf(t *testing.T) {
	e := newTestEngine(t)

	r1, err := e.Ingest(event.Request{TenantID: "tenant-a", Type: "user.created", EntityID: "u1", Payload: json.RawMessage(`{"name":"A"}`)}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, r1.Version)

	r2, err := e.Ingest(event.Request{TenantID: "tenant-a", Type: "user.updated", EntityID: "u1", Payload: json.RawMessage(`{"name":"B"}`)}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, r2.Version)

	result, err := e.StateAsOf(context.Background(), "tenant-a", "u1", IdentityProjection, r2.TimestampMicros+1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"B"}`, string(result.State))
	assert.EqualValues(t, 2, result.Version)

	events, err := e.QueryByEntity(context.Background(), "tenant-a", "u1", nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, 1, events[0].Version)
	assert.EqualValues(t, 2, events[1].Version)
}

func TestOptimisticConflictNoGap(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 5; i++ {
		_, err := e.Ingest(event.Request{TenantID: "tenant-a", Type: "order.touched", EntityID: "u1", Payload: json.RawMessage(`{}`)}, false)
		require.NoError(t, err)
	}

	expected := int64(5)
	_, err1 := e.Ingest(event.Request{TenantID: "tenant-a", Type: "order.touched", EntityID: "u1", Payload: json.RawMessage(`{}`), ExpectedVersion: &expected}, false)
	_, err2 := e.Ingest(event.Request{TenantID: "tenant-a", Type: "order.touched", EntityID: "u1", Payload: json.RawMessage(`{}`), ExpectedVersion: &expected}, false)

	succeeded := 0
	var conflict *eventerr.VersionConflict
	for _, err := range []error{err1, err2} {
		if err == nil {
			succeeded++
		} else {
			require.ErrorAs(t, err, &conflict)
		}
	}
	assert.Equal(t, 1, succeeded)

	events, err := e.QueryByEntity(context.Background(), "tenant-a", "u1", nil)
	require.NoError(t, err)
	assert.Len(t, events, 6)
	for i, evt := range events {
		assert.EqualValues(t, i+1, evt.Version)
	}
}

func TestQuotaExceededRejectsIngestPastDailyLimit(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.PartitionCount = 1

	e, err := Open(cfg, Options{
		DefaultQuotas:        tenant.Quotas{EventsPerDay: 2},
		DefaultRateLimitTier: tenant.RateLimitTier{Burst: 10000, RefillPerSec: 10000},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	for i := 0; i < 2; i++ {
		_, err := e.Ingest(event.Request{TenantID: "tenant-b", Type: "x", EntityID: "e1", Payload: json.RawMessage(`{}`)}, false)
		require.NoError(t, err)
	}

	_, err = e.Ingest(event.Request{TenantID: "tenant-b", Type: "x", EntityID: "e1", Payload: json.RawMessage(`{}`)}, false)
	var quotaErr *eventerr.QuotaExceeded
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "events", quotaErr.Resource)
}

func TestRecoverRebuildsRegistryAndIndexesAfterRestart(t *testing.T) {
	dataDir := t.TempDir()
	cfg := config.Default(dataDir)
	cfg.PartitionCount = 2
	cfg.ColumnFlushRows = 2 // force the first two events into a closed .col file

	e, err := Open(cfg, Options{
		DefaultRateLimitTier: tenant.RateLimitTier{Burst: 10000, RefillPerSec: 10000},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := e.Ingest(event.Request{TenantID: "tenant-a", Type: "order.touched", EntityID: "e1", Payload: json.RawMessage(`{}`)}, false)
		require.NoError(t, err)
	}
	// This third event's columnar row buffer never crosses FlushRows again,
	// so it stays live (unflushed) and only the WAL frame survives a
	// simulated crash below.
	r3, err := e.Ingest(event.Request{TenantID: "tenant-a", Type: "order.touched", EntityID: "e1", Payload: json.RawMessage(`{}`)}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, r3.Version)

	// Close without Start(): no checkpoint ticker ran, so this also proves
	// recovery does not depend on a fresh registry checkpoint having been
	// taken before the crash.
	require.NoError(t, e.Close())

	e2, err := Open(cfg, Options{
		DefaultRateLimitTier: tenant.RateLimitTier{Burst: 10000, RefillPerSec: 10000},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })

	meta, ok := e2.InspectStream("e1")
	require.True(t, ok)
	assert.EqualValues(t, 3, meta.CurrentVersion)
	assert.EqualValues(t, 3, meta.Watermark)

	events, err := e2.QueryByEntity(context.Background(), "tenant-a", "e1", nil)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, evt := range events {
		assert.EqualValues(t, i+1, evt.Version)
	}

	// A fresh reservation must continue from 4, not collide with the
	// recovered versions (I1/I2).
	r4, err := e2.Ingest(event.Request{TenantID: "tenant-a", Type: "order.touched", EntityID: "e1", Payload: json.RawMessage(`{}`)}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 4, r4.Version)
}

func TestPurgeTenantRemovesEventsAndStreams(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Ingest(event.Request{TenantID: "tenant-c", Type: "x", EntityID: "e1", Payload: json.RawMessage(`{}`)}, false)
	require.NoError(t, err)

	require.NoError(t, e.PurgeTenant("tenant-c"))

	events, err := e.QueryByEntity(context.Background(), "tenant-c", "e1", nil)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, ok := e.InspectStream("e1")
	assert.False(t, ok)
}
