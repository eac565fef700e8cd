package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/eventerr"
)

func TestNewValidatesEventType(t *testing.T) {
	_, err := New(Request{
		TenantID: "t1",
		Type:     "bad type with spaces",
		EntityID: "e1",
	}, 0)
	require.Error(t, err)
	var invalid *eventerr.InvalidEvent
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, "event_type", invalid.Field)
}

func TestNewValidatesEntityID(t *testing.T) {
	_, err := New(Request{TenantID: "t1", Type: "user.created", EntityID: ""}, 0)
	require.Error(t, err)
}

func TestNewValidatesPayloadSize(t *testing.T) {
	oversized := json.RawMessage(strings.Repeat("a", 100))
	_, err := New(Request{TenantID: "t1", Type: "user.created", EntityID: "u1", Payload: oversized}, 10)
	require.Error(t, err)
}

func TestNewDefaultsStreamIDToEntityID(t *testing.T) {
	evt, err := New(Request{TenantID: "t1", Type: "user.created", EntityID: "u1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "u1", evt.StreamID)
	assert.NotEqual(t, evt.ID.String(), "")
}

func TestNewFastSkipsValidation(t *testing.T) {
	evt := NewFast(Request{TenantID: "t1", Type: "not a valid type!!", EntityID: "u1"})
	assert.Equal(t, "not a valid type!!", evt.Type)
}

func TestCloneIsIndependent(t *testing.T) {
	evt, err := New(Request{TenantID: "t1", Type: "user.created", EntityID: "u1", Payload: json.RawMessage(`{"a":1}`)}, 0)
	require.NoError(t, err)

	clone := evt.Clone()
	clone.Payload[2] = 'X'
	assert.NotEqual(t, string(evt.Payload), string(clone.Payload))
}
