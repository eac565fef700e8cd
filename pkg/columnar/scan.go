package columnar

import (
	"time"

	"github.com/cuemby/eventcore/pkg/event"
	"github.com/cuemby/eventcore/pkg/eventerr"
	"github.com/cuemby/eventcore/pkg/index"
)

// Fetch resolves an index.IndexEntry to its event, satisfying
// index.Fetcher. An entry with BatchID set names a closed file directly;
// an entry with BatchID == "" names a sequence number in the live row
// buffer for the (tenant, day, partition) its timestamp falls in — day is
// re-derived from TimestampMicros since IndexEntry does not carry it
// (§4.3 fetch(location)).
func (s *Store) Fetch(entry index.IndexEntry) (*event.Event, error) {
	if entry.BatchID != "" {
		cf, ok := s.catalog.file(entry.BatchID)
		if !ok {
			return nil, &eventerr.StorageUnavailable{Op: "columnar.fetch", Err: errBatchNotFound(entry.BatchID)}
		}
		return cf.eventAt(entry.OffsetInBatch)
	}

	day := time.UnixMicro(entry.TimestampMicros).UTC().Format("2006-01-02")
	k := key{tenant: entry.TenantID, day: day, partition: entry.Partition}
	seq := int64(entry.OffsetInBatch)

	if e, ok := s.liveEventAt(k, seq); ok {
		return e, nil
	}
	if batchID, row, ok := s.catalog.resolve(k, seq); ok {
		cf, ok := s.catalog.file(batchID)
		if !ok {
			return nil, &eventerr.StorageUnavailable{Op: "columnar.fetch", Err: errBatchNotFound(batchID)}
		}
		return cf.eventAt(row)
	}
	return nil, &eventerr.EntityNotFound{TenantID: entry.TenantID}
}

// Scan streams every event for tenant across the given inclusive day
// range, in catalog (flush) order, filtering by predicate and yielding
// results through yield. Scan stops early if yield returns false. Files
// whose header min/max falls entirely outside [fromMicros, toMicros] are
// skipped without being decoded further than their header, per §4.3's
// skip-over summaries.
func (s *Store) Scan(tenantID string, fromMicros, toMicros int64, predicate func(*event.Event) bool, yield func(*event.Event) bool) error {
	from := time.UnixMicro(fromMicros).UTC()
	to := time.UnixMicro(toMicros).UTC()

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := d.Format("2006-01-02")
		partitions := s.partitionsFor(tenantID, day)
		for _, partitionID := range partitions {
			k := key{tenant: tenantID, day: day, partition: partitionID}

			for _, cf := range s.catalog.filesFor(k) {
				if cf.h.MaxTSMicros < fromMicros || cf.h.MinTSMicros > toMicros {
					continue
				}
				for i := range cf.rows {
					r := cf.rows[i]
					if r.TimestampMicros < fromMicros || r.TimestampMicros > toMicros {
						continue
					}
					e, err := cf.eventAt(i)
					if err != nil {
						return err
					}
					if predicate != nil && !predicate(e) {
						continue
					}
					if !yield(e) {
						return nil
					}
				}
			}

			if !s.scanLiveBuffer(k, fromMicros, toMicros, predicate, yield) {
				return nil
			}
		}
	}
	return nil
}

func (s *Store) scanLiveBuffer(k key, fromMicros, toMicros int64, predicate func(*event.Event) bool, yield func(*event.Event) bool) bool {
	s.mu.Lock()
	b, ok := s.buffers[k]
	s.mu.Unlock()
	if !ok {
		return true
	}

	b.mu.Lock()
	events := make([]*event.Event, len(b.events))
	copy(events, b.events)
	b.mu.Unlock()

	for _, e := range events {
		if e.TimestampMicros < fromMicros || e.TimestampMicros > toMicros {
			continue
		}
		if predicate != nil && !predicate(e) {
			continue
		}
		if !yield(e) {
			return false
		}
	}
	return true
}

// partitionsFor lists the partition directories that exist for
// (tenant, day), used by Scan to enumerate without the caller needing to
// know the configured partition count.
func (s *Store) partitionsFor(tenantID, day string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]struct{})
	for k := range s.buffers {
		if k.tenant == tenantID && k.day == day {
			seen[k.partition] = struct{}{}
		}
	}
	for k := range s.catalog.ranges {
		if k.tenant == tenantID && k.day == day {
			seen[k.partition] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

type errBatchNotFound string

func (e errBatchNotFound) Error() string { return "batch not found: " + string(e) }
