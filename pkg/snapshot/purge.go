package snapshot

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// PurgeTenant deletes every snapshot generation belonging to tenantID.
func (st *Store) PurgeTenant(tenantID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	prefix := []byte(tenantID + "\x1f")
	return st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
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
