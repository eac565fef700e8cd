package ingest

import (
	"hash/fnv"
	"sync"
)

const latchShards = 64

// streamLatches serializes the reserve -> wal-append -> index-append ->
// confirm span per stream (§5: "per-stream operations are serialized by a
// per-stream latch held only for the span"), sharded the same way pkg/index
// shards its maps so unrelated streams never contend on the same mutex.
type streamLatches struct {
	shards [latchShards]struct {
		mapMu  sync.Mutex
		byKey  map[string]*sync.Mutex
		lastTS map[string]int64
	}
}

func newStreamLatches() *streamLatches {
	l := &streamLatches{}
	for i := range l.shards {
		l.shards[i].byKey = make(map[string]*sync.Mutex)
		l.shards[i].lastTS = make(map[string]int64)
	}
	return l
}

func bucketForStream(streamID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(streamID))
	return int(h.Sum32() % latchShards)
}

// lock acquires the per-stream latch for streamID, returning an unlock
// function the caller must defer.
func (l *streamLatches) lock(streamID string) func() {
	s := &l.shards[bucketForStream(streamID)]

	s.mapMu.Lock()
	mu, ok := s.byKey[streamID]
	if !ok {
		mu = &sync.Mutex{}
		s.byKey[streamID] = mu
	}
	s.mapMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// nextTimestamp computes the monotonic-per-stream timestamp assignment
// (§4.6 step 4: t = max(now_utc_micros, last_timestamp_in_stream + 1)) and
// records it as the new last timestamp. Callers must hold the stream's
// latch from lock().
func (l *streamLatches) nextTimestamp(streamID string, nowMicros int64) int64 {
	s := &l.shards[bucketForStream(streamID)]

	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	last := s.lastTS[streamID]
	t := nowMicros
	if last+1 > t {
		t = last + 1
	}
	s.lastTS[streamID] = t
	return t
}
