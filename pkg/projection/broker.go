package projection

import (
	"sync"
	"time"

	"github.com/cuemby/eventcore/pkg/event"
	ecolog "github.com/cuemby/eventcore/pkg/log"
	"github.com/rs/zerolog"
)

// BackpressurePolicy governs what a Subscription does when its buffer is
// full (§4.10).
type BackpressurePolicy string

const (
	PolicyDrop   BackpressurePolicy = "drop"
	PolicyBuffer BackpressurePolicy = "buffer"
	PolicyBlock  BackpressurePolicy = "block"
)

// Subscription is a single subscriber's view of the live event stream.
type Subscription struct {
	ch      chan *event.Event
	policy  BackpressurePolicy
	timeout time.Duration
}

// Events returns the channel subscribed events are delivered on.
func (s *Subscription) Events() <-chan *event.Event { return s.ch }

// Broker fans out every durably confirmed event to its subscribers,
// modeled on the teacher's pub-sub broker: a buffered intake channel, a
// single dispatch goroutine, and per-subscriber delivery governed here by
// a backpressure policy instead of an unconditional drop-on-full.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]bool

	eventCh chan *event.Event
	stopCh  chan struct{}
	logger  zerolog.Logger
}

// NewBroker returns a Broker with an intake buffer of intakeBuffer events.
func NewBroker(intakeBuffer int) *Broker {
	return &Broker{
		subscribers: make(map[*Subscription]bool),
		eventCh:     make(chan *event.Event, intakeBuffer),
		stopCh:      make(chan struct{}),
		logger:      ecolog.WithComponent("projection"),
	}
}

// Start begins the broker's dispatch loop.
func (b *Broker) Start() { go b.run() }

// Stop ends the dispatch loop. Stop is not safe to call twice.
func (b *Broker) Stop() { close(b.stopCh) }

// Subscribe registers a new subscription with the given policy and buffer
// size, returning it for the caller to read from and later Unsubscribe.
func (b *Broker) Subscribe(policy BackpressurePolicy, bufferSize int, blockTimeout time.Duration) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ch: make(chan *event.Event, bufferSize), policy: policy, timeout: blockTimeout}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.ch)
}

// Publish enqueues e for fan-out. Publish never blocks the caller beyond
// the intake buffer filling up, matching §4.6 step 8: "non-blocking,
// never allowed to fail ingest."
func (b *Broker) Publish(e *event.Event) {
	select {
	case b.eventCh <- e:
	case <-b.stopCh:
	default:
		b.logger.Warn().Str("entity_id", e.EntityID).Msg("broker intake full, dropping event")
	}
}

func (b *Broker) run() {
	for {
		select {
		case e := <-b.eventCh:
			b.broadcast(e)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(e *event.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		b.deliver(sub, e)
	}
}

func (b *Broker) deliver(sub *Subscription, e *event.Event) {
	switch sub.policy {
	case PolicyBlock:
		select {
		case sub.ch <- e:
		case <-time.After(sub.timeout):
			b.logger.Warn().Str("entity_id", e.EntityID).Msg("subscriber blocked past timeout, dropping event")
		case <-b.stopCh:
		}
	case PolicyDrop:
		// §4.10: "drop (drop oldest)" — on overflow the newest event is
		// admitted and the oldest queued one is evicted, so a subscriber
		// that falls behind always sees the freshest state.
		for {
			select {
			case sub.ch <- e:
				return
			default:
			}
			select {
			case <-sub.ch:
				b.logger.Debug().Str("entity_id", e.EntityID).Msg("subscriber buffer full, dropping oldest event")
			default:
				// Drained by a concurrent reader between the two selects;
				// retry the send.
			}
		}
	default: // buffer: bounded, non-blocking, discards the new event on overflow
		select {
		case sub.ch <- e:
		default:
			b.logger.Debug().Str("entity_id", e.EntityID).Str("policy", string(sub.policy)).Msg("subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
