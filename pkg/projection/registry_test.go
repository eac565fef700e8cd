package projection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/event"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	spec := &Spec{
		Name:         "balances",
		Version:      1,
		InitialState: []byte(`{}`),
		Fold: func(current json.RawMessage, e *event.Event) (json.RawMessage, error) {
			return e.Payload, nil
		},
	}
	r.Register(spec)

	got, ok := r.Get("balances")
	require.True(t, ok)
	assert.Equal(t, 1, got.Version)
}

func TestRegistryHotReloadReplacesVersion(t *testing.T) {
	r := NewRegistry()
	r.Register(&Spec{Name: "balances", Version: 1})
	r.Register(&Spec{Name: "balances", Version: 2})

	got, ok := r.Get("balances")
	require.True(t, ok)
	assert.Equal(t, 2, got.Version)
}

func TestRegistryGetMissingReturnsFalse(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryNamesListsAllRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register(&Spec{Name: "a"})
	r.Register(&Spec{Name: "b"})
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
}
