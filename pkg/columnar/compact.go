package columnar

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cuemby/eventcore/pkg/event"
)

// CompactPartition merges every closed file for (tenantID, day, partitionID)
// into one, if there are at least minFiles of them. The merge preserves
// row order, so the merged file's single seqRange spans exactly what the
// replaced ranges spanned and every existing IndexEntry still resolves.
// The new file is fsync'd and the catalog is swapped to it before the
// superseded inputs are removed (§4.11: "deletes superseded inputs only
// after the replacement is fsync'd and the catalog entry is swapped
// atomically"). Returns false if there were not enough files to merge.
func (s *Store) CompactPartition(tenantID, day string, partitionID, minFiles int) (bool, error) {
	k := key{tenant: tenantID, day: day, partition: partitionID}

	s.catalog.mu.Lock()
	ranges := append([]seqRange(nil), s.catalog.ranges[k]...)
	s.catalog.mu.Unlock()

	if len(ranges) < minFiles {
		return false, nil
	}

	var events []*event.Event
	for _, r := range ranges {
		s.catalog.mu.RLock()
		cf, ok := s.catalog.files[r.batchID]
		s.catalog.mu.RUnlock()
		if !ok {
			return false, fmt.Errorf("columnar: compact: missing file for batch %s", r.batchID)
		}
		for i := range cf.rows {
			evt, err := cf.eventAt(i)
			if err != nil {
				return false, err
			}
			events = append(events, evt)
		}
	}
	if len(events) == 0 {
		return false, nil
	}

	dir := k.dir(s.root)
	newName := fmt.Sprintf("batch-compact-%010d.col", ranges[0].start)
	newPath := filepath.Join(dir, newName)

	if err := writeFile(newPath, events); err != nil {
		return false, fmt.Errorf("columnar: compact: write merged file: %w", err)
	}
	cf, err := readFile(newPath)
	if err != nil {
		return false, fmt.Errorf("columnar: compact: reopen merged file: %w", err)
	}

	batchID := filepath.Join(tenantID, day, strconv.Itoa(partitionID), newName)

	s.catalog.mu.Lock()
	oldBatchIDs := make([]string, len(ranges))
	oldSet := make(map[string]bool, len(ranges))
	for i, r := range ranges {
		oldBatchIDs[i] = r.batchID
		oldSet[r.batchID] = true
	}
	merged := seqRange{start: ranges[0].start, rowCount: len(events), batchID: batchID}
	// Splice the merged range in where the first superseded range sat,
	// rather than overwriting the whole slice: a flush racing this
	// compaction may have appended a newer range for k after `ranges` was
	// snapshotted above, and that range must survive the swap.
	current := s.catalog.ranges[k]
	kept := current[:0:0]
	spliced := false
	for _, r := range current {
		if oldSet[r.batchID] {
			if !spliced {
				kept = append(kept, merged)
				spliced = true
			}
			continue
		}
		kept = append(kept, r)
	}
	if !spliced {
		kept = append(kept, merged)
	}
	s.catalog.files[batchID] = cf
	s.catalog.ranges[k] = kept
	for _, id := range oldBatchIDs {
		delete(s.catalog.files, id)
	}
	s.catalog.mu.Unlock()

	for _, id := range oldBatchIDs {
		if err := os.Remove(filepath.Join(s.root, "columnar", id)); err != nil && !os.IsNotExist(err) {
			return true, fmt.Errorf("columnar: compact: remove superseded file %s: %w", id, err)
		}
	}

	return true, nil
}
