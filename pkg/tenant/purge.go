package tenant

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/eventcore/pkg/eventerr"
)

// PurgeTenant removes tenantID's accounting state entirely, from memory
// and from the checkpoint file. A purged tenant that ingests again starts
// from defaultQuotas/defaultTier, same as one never seen before.
func (a *Accounting) PurgeTenant(tenantID string) error {
	a.mu.Lock()
	delete(a.tenants, tenantID)
	a.mu.Unlock()

	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		return b.Delete([]byte(tenantID))
	})
	if err != nil {
		return &eventerr.StorageUnavailable{Op: "tenant.purge", Err: err}
	}
	return nil
}
