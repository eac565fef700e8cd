package columnar

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/event"
)

func testEvent(t *testing.T, streamID string, version int64, tsMicros int64) *event.Event {
	t.Helper()
	evt, err := event.New(event.Request{
		TenantID: "tenant-a",
		StreamID: streamID,
		Type:     "order.created",
		EntityID: streamID,
		Payload:  json.RawMessage(`{"amount":42}`),
	}, 0)
	require.NoError(t, err)
	evt.Version = version
	evt.TimestampMicros = tsMicros
	return evt
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	events := []*event.Event{
		testEvent(t, "s1", 1, 1000),
		testEvent(t, "s1", 2, 2000),
		testEvent(t, "s2", 1, 1500),
	}

	path := filepath.Join(dir, "batch-0000000000.col")
	require.NoError(t, writeFile(path, events))

	cf, err := readFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cf.h.RowCount)
	assert.Equal(t, int64(1000), cf.h.MinTSMicros)
	assert.Equal(t, int64(2000), cf.h.MaxTSMicros)
	assert.Equal(t, int64(1), cf.h.MinVersion)
	assert.Equal(t, int64(2), cf.h.MaxVersion)
	assert.Equal(t, []string{"order.created"}, cf.h.Types)

	got, err := cf.eventAt(1)
	require.NoError(t, err)
	assert.Equal(t, events[1].ID, got.ID)
	assert.Equal(t, events[1].StreamID, got.StreamID)
	assert.JSONEq(t, string(events[1].Payload), string(got.Payload))
}

func TestWriteFileRefusesEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	err := writeFile(filepath.Join(dir, "batch-0000000000.col"), nil)
	assert.Error(t, err)
}

func TestEventAtOutOfRangeErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch-0000000000.col")
	require.NoError(t, writeFile(path, []*event.Event{testEvent(t, "s1", 1, 1000)}))

	cf, err := readFile(path)
	require.NoError(t, err)
	_, err = cf.eventAt(5)
	assert.Error(t, err)
}
