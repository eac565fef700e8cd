package projection

import (
	"sync"
	"time"

	"github.com/cuemby/eventcore/pkg/event"
)

// WindowKind selects a window operator's semantics (§4.10).
type WindowKind string

const (
	WindowTumbling WindowKind = "tumbling"
	WindowSliding  WindowKind = "sliding"
	WindowSession  WindowKind = "session"
)

// WindowConfig parameterizes a Window. Size is the window length for
// tumbling/sliding; Timeout is the inactivity gap that closes a session
// window. Slide is not read by any window kind: a sliding window emits
// its current contents on every Add.
type WindowConfig struct {
	Kind    WindowKind
	Size    time.Duration
	Slide   time.Duration
	Timeout time.Duration
}

// Window buffers events by their own timestamps and reports completed
// windows as they close. Windowing here is driven by event time, not
// wall-clock time, so it is deterministic and independent of how fast a
// caller feeds it events.
type Window struct {
	cfg WindowConfig

	mu          sync.Mutex
	buf         []*event.Event
	windowStart time.Time
}

// NewWindow builds a Window for cfg.
func NewWindow(cfg WindowConfig) *Window {
	return &Window{cfg: cfg}
}

// Add appends e and returns any windows that close as a result. Tumbling
// and session windows emit at most one completed window per call;
// sliding emits its current contents on every call.
func (w *Window) Add(e *event.Event) [][]*event.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	ts := e.Timestamp()
	switch w.cfg.Kind {
	case WindowTumbling:
		return w.addTumbling(e, ts)
	case WindowSession:
		return w.addSession(e, ts)
	case WindowSliding:
		return w.addSliding(e, ts)
	default:
		w.buf = append(w.buf, e)
		return nil
	}
}

func (w *Window) addTumbling(e *event.Event, ts time.Time) [][]*event.Event {
	if w.windowStart.IsZero() {
		w.windowStart = ts.Truncate(w.cfg.Size)
	}
	if ts.Sub(w.windowStart) >= w.cfg.Size {
		flushed := w.buf
		w.buf = []*event.Event{e}
		w.windowStart = ts.Truncate(w.cfg.Size)
		if len(flushed) == 0 {
			return nil
		}
		return [][]*event.Event{flushed}
	}
	w.buf = append(w.buf, e)
	return nil
}

func (w *Window) addSession(e *event.Event, ts time.Time) [][]*event.Event {
	if len(w.buf) > 0 {
		last := w.buf[len(w.buf)-1]
		if ts.Sub(last.Timestamp()) > w.cfg.Timeout {
			flushed := w.buf
			w.buf = []*event.Event{e}
			return [][]*event.Event{flushed}
		}
	}
	w.buf = append(w.buf, e)
	return nil
}

func (w *Window) addSliding(e *event.Event, ts time.Time) [][]*event.Event {
	w.buf = append(w.buf, e)
	cutoff := ts.Add(-w.cfg.Size)
	i := 0
	for i < len(w.buf) && w.buf[i].Timestamp().Before(cutoff) {
		i++
	}
	w.buf = w.buf[i:]

	out := make([]*event.Event, len(w.buf))
	copy(out, w.buf)
	return [][]*event.Event{out}
}

// Flush returns and clears whatever is currently buffered, for use at
// shutdown so a partial window is not silently lost.
func (w *Window) Flush() []*event.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.buf
	w.buf = nil
	return out
}

// Batcher groups every n events into one slice, independent of event
// timing (§4.10's batch(n, fn) operator).
type Batcher struct {
	n   int
	mu  sync.Mutex
	buf []*event.Event
}

// NewBatcher builds a Batcher that flushes every n events.
func NewBatcher(n int) *Batcher {
	return &Batcher{n: n}
}

// Add appends e, returning the completed batch and true once n events
// have accumulated.
func (b *Batcher) Add(e *event.Event) ([]*event.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, e)
	if len(b.buf) < b.n {
		return nil, false
	}
	out := b.buf
	b.buf = nil
	return out, true
}

// Flush returns and clears whatever has not yet reached a full batch.
func (b *Batcher) Flush() []*event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf
	b.buf = nil
	return out
}
