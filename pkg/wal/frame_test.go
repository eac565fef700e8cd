package wal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/event"
)

func testFrame(t *testing.T) Frame {
	t.Helper()
	evt, err := event.New(event.Request{
		TenantID: "tenant-a",
		StreamID: "stream-1",
		Type:     "order.created",
		EntityID: "order-1",
		Payload:  json.RawMessage(`{"amount":42}`),
	}, 0)
	require.NoError(t, err)
	evt.Version = 3
	evt.TimestampMicros = 1700000000000000

	return Frame{TenantID: "tenant-a", StreamID: "stream-1", Version: 3, Event: evt}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := testFrame(t)

	encoded, err := Encode(f)
	require.NoError(t, err)

	decoded, err := decodeFrameBytes(encoded)
	require.NoError(t, err)

	assert.Equal(t, f.TenantID, decoded.TenantID)
	assert.Equal(t, f.StreamID, decoded.StreamID)
	assert.Equal(t, f.Version, decoded.Version)
	assert.Equal(t, f.Event.ID, decoded.Event.ID)
	assert.Equal(t, f.Event.Type, decoded.Event.Type)
	assert.Equal(t, f.Event.EntityID, decoded.Event.EntityID)
	assert.JSONEq(t, string(f.Event.Payload), string(decoded.Event.Payload))
	assert.Equal(t, f.Event.TimestampMicros, decoded.Event.TimestampMicros)
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	f := testFrame(t)
	encoded, err := Encode(f)
	require.NoError(t, err)

	// Flip a payload byte without updating the checksum.
	encoded[len(encoded)-1] ^= 0xFF

	_, err = decodeFrameBytes(encoded)
	assert.ErrorIs(t, err, errTornFrame)
}

func TestDecodeRejectsShortRead(t *testing.T) {
	f := testFrame(t)
	encoded, err := Encode(f)
	require.NoError(t, err)

	_, err = decodeFrameBytes(encoded[:len(encoded)-3])
	assert.ErrorIs(t, err, errTornFrame)
}
