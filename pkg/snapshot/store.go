package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var bucketSnapshots = []byte("snapshots")

// Snapshot is one captured entity-state generation: the projection's fold
// result as of VersionCovered, timestamped at the moment the consistent
// read was taken (§4.9).
type Snapshot struct {
	TenantID        string          `json:"tenant_id"`
	EntityID        string          `json:"entity_id"`
	Projection      string          `json:"projection"`
	VersionCovered  int64           `json:"version_covered"`
	TimestampMicros int64           `json:"timestamp_micros"`
	State           json.RawMessage `json:"state"`
}

func groupKey(tenantID, entityID, projection string) string {
	return tenantID + "\x1f" + entityID + "\x1f" + projection
}

// Store persists snapshots to a bbolt file, one bucket entry per
// generation, ordered for lookups by "newest with timestamp <= T".
type Store struct {
	mu sync.Mutex
	db *bolt.DB
}

// Open opens (creating if necessary) the snapshot store at
// dataDir/snapshots.state.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "snapshots.state")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snapshot: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// entryKey orders generations for the same group lexically by
// VersionCovered, using a fixed-width big-endian encoding so bbolt's
// byte-ordered cursor walks them in version order.
func entryKey(group string, versionCovered int64) []byte {
	buf := make([]byte, len(group)+1+8)
	copy(buf, group)
	buf[len(group)] = '\x1f'
	binary.BigEndian.PutUint64(buf[len(group)+1:], uint64(versionCovered))
	return buf
}

// Save persists s, then deletes any prior generation for the same group
// with a lower VersionCovered — §4.9: "older snapshots ... may be deleted
// once the new one is durable".
func (st *Store) Save(s Snapshot) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	group := groupKey(s.TenantID, s.EntityID, s.Projection)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	return st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if err := b.Put(entryKey(group, s.VersionCovered), data); err != nil {
			return err
		}

		prefix := []byte(group + "\x1f")
		c := b.Cursor()
		var toDelete [][]byte
		newKey := entryKey(group, s.VersionCovered)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if bytes.Equal(k, newKey) {
				// Keys sort by VersionCovered, so everything after newKey is
				// a higher generation and is kept.
				break
			}
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Latest returns the newest snapshot for (tenantID, entityID, projection)
// with TimestampMicros <= asOfMicros, if any.
func (st *Store) Latest(tenantID, entityID, projection string, asOfMicros int64) (Snapshot, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	group := groupKey(tenantID, entityID, projection)
	prefix := []byte(group + "\x1f")

	var candidates []Snapshot
	err := st.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var s Snapshot
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("snapshot: decode %s: %w", k, err)
			}
			if s.TimestampMicros <= asOfMicros {
				candidates = append(candidates, s)
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(candidates) == 0 {
		return Snapshot{}, false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].VersionCovered > candidates[j].VersionCovered
	})
	return candidates[0], true, nil
}

// Close releases the underlying bbolt file.
func (st *Store) Close() error {
	return st.db.Close()
}
