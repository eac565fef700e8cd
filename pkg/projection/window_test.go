package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/eventcore/pkg/event"
)

func evtAt(t time.Time) *event.Event {
	return &event.Event{TimestampMicros: t.UnixMicro()}
}

func TestTumblingWindowFlushesOnBoundaryCrossing(t *testing.T) {
	w := NewWindow(WindowConfig{Kind: WindowTumbling, Size: time.Minute})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, w.Add(evtAt(base)))
	assert.Nil(t, w.Add(evtAt(base.Add(30*time.Second))))

	flushed := w.Add(evtAt(base.Add(90 * time.Second)))
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0], 2)
}

func TestSessionWindowFlushesOnGap(t *testing.T) {
	w := NewWindow(WindowConfig{Kind: WindowSession, Timeout: 5 * time.Minute})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, w.Add(evtAt(base)))
	assert.Nil(t, w.Add(evtAt(base.Add(time.Minute))))

	flushed := w.Add(evtAt(base.Add(10 * time.Minute)))
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0], 2)
}

func TestSlidingWindowEvictsOldEvents(t *testing.T) {
	w := NewWindow(WindowConfig{Kind: WindowSliding, Size: time.Minute})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w.Add(evtAt(base))
	result := w.Add(evtAt(base.Add(90 * time.Second)))
	require.Len(t, result, 1)
	assert.Len(t, result[0], 1, "the first event should have aged out of the one-minute window")
}

func TestWindowFlushReturnsBufferedEvents(t *testing.T) {
	w := NewWindow(WindowConfig{Kind: WindowTumbling, Size: time.Hour})
	w.Add(evtAt(time.Now()))
	assert.Len(t, w.Flush(), 1)
	assert.Empty(t, w.Flush())
}

func TestBatcherFlushesEveryN(t *testing.T) {
	b := NewBatcher(2)
	_, ok := b.Add(&event.Event{})
	assert.False(t, ok)

	batch, ok := b.Add(&event.Event{})
	assert.True(t, ok)
	assert.Len(t, batch, 2)
}

func TestBatcherFlushReturnsPartialBatch(t *testing.T) {
	b := NewBatcher(3)
	b.Add(&event.Event{})
	assert.Len(t, b.Flush(), 1)
	assert.Empty(t, b.Flush())
}
