package columnar

import (
	"os"
	"path/filepath"
)

// PurgeTenant removes every closed file and catalog entry for tenantID.
// This resolves §9 open question (c) as hard deletion at the columnar file
// level rather than a tombstone bit: tenant purge is an administrative
// batch operation (§1 "explicitly out of scope" carve-out), not a
// data-plane feature, so there is no concurrent reader to race against the
// unlink the way a live compaction swap has to guard against.
func (s *Store) PurgeTenant(tenantID string) error {
	s.mu.Lock()
	for k := range s.buffers {
		if k.tenant == tenantID {
			delete(s.buffers, k)
		}
	}
	s.mu.Unlock()

	s.catalog.mu.Lock()
	for k, ranges := range s.catalog.ranges {
		if k.tenant != tenantID {
			continue
		}
		for _, r := range ranges {
			delete(s.catalog.files, r.batchID)
		}
		delete(s.catalog.ranges, k)
	}
	s.catalog.mu.Unlock()

	dir := filepath.Join(s.root, "columnar", tenantID)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return nil
}
