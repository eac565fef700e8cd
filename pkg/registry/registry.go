package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/eventcore/pkg/eventerr"
)

var bucketStreams = []byte("streams")

// StreamMeta is the durable, checkpointable view of one stream's
// registration (§4.4).
type StreamMeta struct {
	StreamID        string `json:"stream_id"`
	TenantID        string `json:"tenant_id"`
	PartitionID     int    `json:"partition_id"`
	CurrentVersion  int64  `json:"current_version"`
	Watermark       int64  `json:"watermark"`
	CreatedAtMicros int64  `json:"created_at_micros"`
	UpdatedAtMicros int64  `json:"updated_at_micros"`
}

type streamState struct {
	mu      sync.Mutex
	meta    StreamMeta
	pending map[int64]struct{} // confirmed versions > watermark+1, awaiting the gap to close
}

// Registry is the in-memory stream registry, checkpointed periodically to a
// bbolt-backed registry.state file (rebuildable from the WAL if lost).
// reserve_version and confirm never touch disk: they are not suspension
// points (§5), only Checkpoint is.
type Registry struct {
	partitionCount int

	mu      sync.RWMutex
	streams map[string]*streamState

	db       *bolt.DB
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Open opens (creating if necessary) the registry checkpoint at
// dataDir/registry.state and loads any previously checkpointed streams.
func Open(dataDir string, partitionCount int) (*Registry, error) {
	path := filepath.Join(dataDir, "registry.state")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("registry: open checkpoint: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStreams)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: init checkpoint: %w", err)
	}

	r := &Registry{
		partitionCount: partitionCount,
		streams:        make(map[string]*streamState),
		db:             db,
		stopCh:         make(chan struct{}),
	}

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		return b.ForEach(func(k, v []byte) error {
			var meta StreamMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("registry: decode checkpoint entry %q: %w", k, err)
			}
			r.streams[meta.StreamID] = &streamState{meta: meta, pending: make(map[int64]struct{})}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

// Close stops any running checkpoint loop, takes a final checkpoint, and
// releases the checkpoint file.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if err := r.Checkpoint(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}

// StartCheckpointing runs Checkpoint on a ticker until Close is called.
func (r *Registry) StartCheckpointing(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = r.Checkpoint()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Checkpoint writes every in-memory stream's metadata to registry.state in
// a single bbolt transaction. Losing the checkpoint file is not a
// correctness issue: the registry is fully rebuildable by replaying the
// WAL, so Checkpoint only bounds how much replay a restart needs.
func (r *Registry) Checkpoint() error {
	r.mu.RLock()
	metas := make([]StreamMeta, 0, len(r.streams))
	for _, s := range r.streams {
		s.mu.Lock()
		metas = append(metas, s.meta)
		s.mu.Unlock()
	}
	r.mu.RUnlock()

	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		for _, meta := range metas {
			data, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("registry: marshal checkpoint entry: %w", err)
			}
			if err := b.Put([]byte(meta.StreamID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &eventerr.StorageUnavailable{Op: "registry.checkpoint", Err: err}
	}
	return nil
}

// PartitionFor deterministically maps a stream_id to a partition id, stable
// across process restarts (§4.4).
func (r *Registry) PartitionFor(streamID string) int {
	h := xxhash.Sum64String(streamID)
	return int(h % uint64(r.partitionCount))
}

func (r *Registry) stateFor(tenantID, streamID string, nowMicros int64) *streamState {
	r.mu.RLock()
	s, ok := r.streams[streamID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[streamID]; ok {
		return s
	}
	s = &streamState{
		meta: StreamMeta{
			StreamID:        streamID,
			TenantID:        tenantID,
			PartitionID:     r.PartitionFor(streamID),
			CreatedAtMicros: nowMicros,
		},
		pending: make(map[int64]struct{}),
	}
	r.streams[streamID] = s
	return s
}

// ReserveVersion is the registry's sole write operation under concurrent
// ingest (§4.4): if expectedVersion is non-nil and differs from the
// stream's current version, it fails with VersionConflict; otherwise it
// atomically increments current_version and returns the new version and
// the stream's assigned partition.
func (r *Registry) ReserveVersion(tenantID, streamID string, expectedVersion *int64, nowMicros int64) (int64, int, error) {
	s := r.stateFor(tenantID, streamID, nowMicros)

	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedVersion != nil && *expectedVersion != s.meta.CurrentVersion {
		return 0, 0, &eventerr.VersionConflict{StreamID: streamID, Expected: *expectedVersion, Actual: s.meta.CurrentVersion}
	}

	s.meta.CurrentVersion++
	s.meta.UpdatedAtMicros = nowMicros
	return s.meta.CurrentVersion, s.meta.PartitionID, nil
}

// AbortVersion rolls back a reservation that failed to make it to durable
// storage (§4.6 step 5). It only undoes the reservation if no later
// version has since been reserved for the stream.
func (r *Registry) AbortVersion(streamID string, version int64) error {
	r.mu.RLock()
	s, ok := r.streams[streamID]
	r.mu.RUnlock()
	if !ok {
		return &eventerr.EntityNotFound{EntityID: streamID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.CurrentVersion != version {
		// Another reservation already moved past this one; nothing to undo.
		return nil
	}
	s.meta.CurrentVersion--
	return nil
}

// Confirm advances the stream's watermark once the WAL append for version
// is durable (§4.4). Confirmations that arrive out of order are held until
// the intervening versions close the gap; watermark never rewinds.
func (r *Registry) Confirm(streamID string, version int64) error {
	r.mu.RLock()
	s, ok := r.streams[streamID]
	r.mu.RUnlock()
	if !ok {
		return &eventerr.EntityNotFound{EntityID: streamID}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if version == s.meta.Watermark+1 {
		s.meta.Watermark++
		for {
			if _, ok := s.pending[s.meta.Watermark+1]; !ok {
				break
			}
			delete(s.pending, s.meta.Watermark+1)
			s.meta.Watermark++
		}
	} else if version > s.meta.Watermark {
		s.pending[version] = struct{}{}
	}

	return nil
}

// Restore folds a durably observed (version, timestamp) for streamID into
// the registry during startup recovery (§4.2: recovery "rebuilds C4 and C5
// up to the last intact record"). It only ever raises CurrentVersion and
// Watermark, never lowers them, so it is safe to call once per recovered
// event regardless of the order the two recovery passes (columnar catalog
// scan, then WAL tail replay) observe them in.
func (r *Registry) Restore(tenantID, streamID string, partitionID int, version, tsMicros int64) {
	s := r.stateFor(tenantID, streamID, tsMicros)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.TenantID = tenantID
	s.meta.PartitionID = partitionID
	if version > s.meta.CurrentVersion {
		s.meta.CurrentVersion = version
	}
	if version > s.meta.Watermark {
		s.meta.Watermark = version
	}
	if tsMicros > s.meta.UpdatedAtMicros {
		s.meta.UpdatedAtMicros = tsMicros
	}
	if s.meta.CreatedAtMicros == 0 || tsMicros < s.meta.CreatedAtMicros {
		s.meta.CreatedAtMicros = tsMicros
	}
}

// Get returns a snapshot of a stream's current metadata.
func (r *Registry) Get(streamID string) (StreamMeta, bool) {
	r.mu.RLock()
	s, ok := r.streams[streamID]
	r.mu.RUnlock()
	if !ok {
		return StreamMeta{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, true
}

// StreamCount returns the number of registered streams for a tenant, used
// by the metrics collector.
func (r *Registry) StreamCount(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.streams {
		s.mu.Lock()
		if s.meta.TenantID == tenantID {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// WatermarkLag sums current_version-watermark across every stream owned by
// tenantID, used by the metrics collector's WatermarkLag gauge.
func (r *Registry) WatermarkLag(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lag := 0
	for _, s := range r.streams {
		s.mu.Lock()
		if s.meta.TenantID == tenantID {
			lag += int(s.meta.CurrentVersion - s.meta.Watermark)
		}
		s.mu.Unlock()
	}
	return lag
}

// TenantIDs lists every tenant with at least one registered stream.
func (r *Registry) TenantIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, s := range r.streams {
		s.mu.Lock()
		seen[s.meta.TenantID] = struct{}{}
		s.mu.Unlock()
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}
