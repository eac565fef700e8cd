package columnar

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/eventcore/pkg/event"
	"github.com/cuemby/eventcore/pkg/eventerr"
)

// Config configures flush thresholds shared by every partition buffer
// (§4.3: "flush when buffer reaches a configured size (rows or bytes) or
// age").
type Config struct {
	FlushRows  int
	FlushBytes int64
	FlushAgeMs int
}

// key identifies one (tenant, day, partition) row buffer.
type key struct {
	tenant    string
	day       string
	partition int
}

func (k key) dir(root string) string {
	return filepath.Join(root, "columnar", k.tenant, k.day, strconv.Itoa(k.partition))
}

// buffer is the live, unflushed row accumulator for one (tenant, day,
// partition). baseSeq is the sequence number of events[0]; sequence
// numbers never reset across flushes, so an IndexEntry's OffsetInBatch
// (really "sequence within this partition-day") stays resolvable by the
// catalog even after the generation that produced it has flushed.
type buffer struct {
	mu        sync.Mutex
	events    []*event.Event
	bytes     int64
	openedAt  time.Time
	nextBatch int
	baseSeq   int64
}

// Store owns every partition's row buffer and the catalog of closed files,
// and is the unit the engine opens once at startup.
type Store struct {
	root string
	cfg  Config

	mu      sync.Mutex
	buffers map[key]*buffer
	catalog *catalog
}

// Open opens the columnar store rooted at dataDir, rebuilding the in-memory
// catalog of closed files by listing the directory tree.
func Open(dataDir string, cfg Config) (*Store, error) {
	if cfg.FlushRows <= 0 {
		cfg.FlushRows = 50_000
	}
	if cfg.FlushBytes <= 0 {
		cfg.FlushBytes = 64 << 20
	}
	s := &Store{
		root:    dataDir,
		cfg:     cfg,
		buffers: make(map[key]*buffer),
		catalog: newCatalog(),
	}
	if err := s.catalog.rebuild(filepath.Join(dataDir, "columnar")); err != nil {
		return nil, err
	}
	return s, nil
}

// Append adds e to its partition's row buffer, flushing first if the
// buffer has crossed a threshold, and returns the sequence number C5
// should index e under. The event is queryable through Fetch immediately,
// whether or not it has flushed (§4.3: "or the live row buffer for
// un-flushed events").
func (s *Store) Append(tenantID string, partitionID int, e *event.Event) (seq int64, flushed bool, err error) {
	day := e.Timestamp().Format("2006-01-02")
	k := key{tenant: tenantID, day: day, partition: partitionID}

	s.mu.Lock()
	b, ok := s.buffers[k]
	if !ok {
		b = &buffer{openedAt: time.Now(), baseSeq: s.catalog.nextSeq(k), nextBatch: s.catalog.nextBatchNum(k)}
		s.buffers[k] = b
	}
	s.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if s.shouldFlushLocked(b) {
		if err := s.flushLocked(k, b); err != nil {
			return 0, false, err
		}
		flushed = true
	}

	seq = b.baseSeq + int64(len(b.events))
	b.events = append(b.events, e)
	b.bytes += int64(len(e.Payload) + len(e.Metadata) + 128)
	return seq, flushed, nil
}

func (s *Store) shouldFlushLocked(b *buffer) bool {
	if len(b.events) == 0 {
		return false
	}
	if len(b.events) >= s.cfg.FlushRows {
		return true
	}
	if b.bytes >= s.cfg.FlushBytes {
		return true
	}
	if s.cfg.FlushAgeMs > 0 && time.Since(b.openedAt) >= time.Duration(s.cfg.FlushAgeMs)*time.Millisecond {
		return true
	}
	return false
}

// FlushPartition force-flushes one (tenant, day, partition)'s buffer,
// returning the batch id assigned to the written file (or "" if the
// buffer was empty).
func (s *Store) FlushPartition(tenantID, day string, partitionID int) (string, error) {
	k := key{tenant: tenantID, day: day, partition: partitionID}
	s.mu.Lock()
	b, ok := s.buffers[k]
	s.mu.Unlock()
	if !ok {
		return "", nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return s.flushLocked(k, b)
}

func (s *Store) flushLocked(k key, b *buffer) (string, error) {
	if len(b.events) == 0 {
		return "", nil
	}

	dir := k.dir(s.root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &eventerr.StorageUnavailable{Op: "columnar.flush", Err: err}
	}

	batchName := fmt.Sprintf("batch-%010d.col", b.nextBatch)
	path := filepath.Join(dir, batchName)

	if err := writeFile(path, b.events); err != nil {
		return "", &eventerr.StorageUnavailable{Op: "columnar.flush", Err: err}
	}

	cf, err := readFile(path)
	if err != nil {
		return "", &eventerr.StorageUnavailable{Op: "columnar.flush", Err: err}
	}
	batchID := filepath.Join(k.tenant, k.day, strconv.Itoa(k.partition), batchName)
	s.catalog.add(k, batchID, cf, b.baseSeq)

	b.nextBatch++
	b.baseSeq += int64(len(b.events))
	b.events = nil
	b.bytes = 0
	b.openedAt = time.Now()

	return batchID, nil
}

// liveEventAt returns the event currently at sequence number seq in the
// live buffer for key, if still unflushed.
func (s *Store) liveEventAt(k key, seq int64) (*event.Event, bool) {
	s.mu.Lock()
	b, ok := s.buffers[k]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := seq - b.baseSeq
	if idx < 0 || idx >= int64(len(b.events)) {
		return nil, false
	}
	return b.events[idx], true
}

// ForEachDurable walks every closed (flushed) file in the catalog in
// deterministic (tenant, day, partition, flush-order, row) order, handing
// each decoded event to fn along with its resolvable (batchID, offset)
// location. This is the engine-startup path that rebuilds C5's indexes
// and C4's registry state "from C3" (§3: an IndexEntry is "not persisted
// standalone; rebuildable from C3"), so a restarted process does not need
// any index durability mechanism of its own.
func (s *Store) ForEachDurable(fn func(tenantID string, partitionID int, batchID string, offset int, e *event.Event) error) error {
	for _, k := range s.catalog.allKeysSorted() {
		for _, r := range s.catalog.rangesFor(k) {
			cf, ok := s.catalog.file(r.batchID)
			if !ok {
				continue
			}
			for row := 0; row < r.rowCount; row++ {
				e, err := cf.eventAt(row)
				if err != nil {
					return err
				}
				e.TenantID = k.tenant
				if err := fn(k.tenant, k.partition, r.batchID, row, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// listDays reports which day directories exist for a tenant, used by the
// compactor to enumerate compaction candidates.
func listDays(root, tenant string) ([]string, error) {
	dir := filepath.Join(root, "columnar", tenant)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("columnar: list days for %s: %w", tenant, err)
	}
	var days []string
	for _, e := range entries {
		if e.IsDir() {
			days = append(days, e.Name())
		}
	}
	sort.Strings(days)
	return days, nil
}

func isBatchFile(name string) bool {
	return strings.HasPrefix(name, "batch-") && strings.HasSuffix(name, ".col")
}
