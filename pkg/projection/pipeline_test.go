package projection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/event"
)

func TestPipelineFilterDropsNonMatching(t *testing.T) {
	p := NewPipeline(FilterStage(func(e *event.Event) bool { return e.Type == "order.created" }))

	out, keep, err := p.Process(&event.Event{Type: "order.created"})
	require.NoError(t, err)
	assert.True(t, keep)
	assert.NotNil(t, out)

	_, keep, err = p.Process(&event.Event{Type: "order.shipped"})
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestPipelineMapTransformsEvent(t *testing.T) {
	p := NewPipeline(MapStage(func(e *event.Event) *event.Event {
		clone := e.Clone()
		clone.Type = "mapped"
		return clone
	}))

	out, keep, err := p.Process(&event.Event{Type: "original"})
	require.NoError(t, err)
	require.True(t, keep)
	assert.Equal(t, "mapped", out.Type)
}

func TestPipelineEnrichPropagatesError(t *testing.T) {
	p := NewPipeline(EnrichStage(func(e *event.Event) (*event.Event, error) {
		return nil, errors.New("lookup failed")
	}))

	_, keep, err := p.Process(&event.Event{})
	assert.False(t, keep)
	assert.Error(t, err)
}

func TestPipelineComposesMultipleStages(t *testing.T) {
	p := NewPipeline(
		FilterStage(func(e *event.Event) bool { return e.Type != "" }),
		MapStage(func(e *event.Event) *event.Event {
			clone := e.Clone()
			clone.EntityID = "stamped"
			return clone
		}),
	)

	out, keep, err := p.Process(&event.Event{Type: "x"})
	require.NoError(t, err)
	require.True(t, keep)
	assert.Equal(t, "stamped", out.EntityID)
}
