package registry

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/eventcore/pkg/eventerr"
)

// PurgeTenant removes every stream owned by tenantID from the in-memory
// registry and from the checkpoint file. It is the registry's half of the
// tenant-purge administrative operation (§1, §9 open question (c)); the
// caller is responsible for purging the columnar store and indexes first
// so a crash mid-purge never leaves a stream whose events are gone but
// whose registration survives.
func (r *Registry) PurgeTenant(tenantID string) error {
	r.mu.Lock()
	var removed []string
	for id, s := range r.streams {
		s.mu.Lock()
		owned := s.meta.TenantID == tenantID
		s.mu.Unlock()
		if owned {
			removed = append(removed, id)
			delete(r.streams, id)
		}
	}
	r.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}

	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		for _, id := range removed {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &eventerr.StorageUnavailable{Op: "registry.purge", Err: err}
	}
	return nil
}
