package columnar

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// seqRange maps the sequence numbers [start, start+rowCount) assigned to
// events at flush time onto rows [0, rowCount) of one closed file.
type seqRange struct {
	start    int64
	rowCount int
	batchID  string
}

// catalog is the in-memory index of every closed columnar file: enough to
// resolve a sequence number to its file and row, and enough to skip a file
// entirely during a scan using its min/max summary.
type catalog struct {
	mu     sync.RWMutex
	files  map[string]*closedFile
	ranges map[key][]seqRange
}

func newCatalog() *catalog {
	return &catalog{files: make(map[string]*closedFile), ranges: make(map[key][]seqRange)}
}

func (c *catalog) add(k key, batchID string, cf *closedFile, baseSeq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[batchID] = cf
	c.ranges[k] = append(c.ranges[k], seqRange{start: baseSeq, rowCount: len(cf.rows), batchID: batchID})
}

// resolve finds the file and row index for seq within key's buffer
// history, if it has been flushed.
func (c *catalog) resolve(k key, seq int64) (batchID string, row int, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.ranges[k] {
		if seq >= r.start && seq < r.start+int64(r.rowCount) {
			return r.batchID, int(seq - r.start), true
		}
	}
	return "", 0, false
}

// nextSeq returns the sequence number a fresh buffer for key should resume
// at, based on previously flushed (or rebuilt) files.
func (c *catalog) nextSeq(k key) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var max int64
	for _, r := range c.ranges[k] {
		end := r.start + int64(r.rowCount)
		if end > max {
			max = end
		}
	}
	return max
}

// nextBatchNum returns how many files have already been flushed for key,
// so a fresh buffer continues the batch-NNNNNNNNNN.col numbering instead
// of colliding with files written before a restart.
func (c *catalog) nextBatchNum(k key) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ranges[k])
}

func (c *catalog) file(batchID string) (*closedFile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cf, ok := c.files[batchID]
	return cf, ok
}

// allKeysSorted returns every (tenant, day, partition) with at least one
// closed file, ordered by tenant then day then partition so a full catalog
// walk (recovery) visits files in a deterministic, roughly chronological
// order.
func (c *catalog) allKeysSorted() []key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]key, 0, len(c.ranges))
	for k := range c.ranges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tenant != keys[j].tenant {
			return keys[i].tenant < keys[j].tenant
		}
		if keys[i].day != keys[j].day {
			return keys[i].day < keys[j].day
		}
		return keys[i].partition < keys[j].partition
	})
	return keys
}

// rangesFor returns a copy of key's flush-ordered sequence ranges.
func (c *catalog) rangesFor(k key) []seqRange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]seqRange(nil), c.ranges[k]...)
}

// filesFor returns every closed file for a (tenant, day, partition), in
// flush order, for use by Scan.
func (c *catalog) filesFor(k key) []*closedFile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ranges := c.ranges[k]
	out := make([]*closedFile, 0, len(ranges))
	for _, r := range ranges {
		if cf, ok := c.files[r.batchID]; ok {
			out = append(out, cf)
		}
	}
	return out
}

// rebuild re-reads every .col file under root into the catalog, assigning
// sequence ranges in file-creation order per (tenant, day, partition) so
// that the next Append resumes sequence numbering where the last process
// left off. Re-deriving the key and base sequence from the directory
// layout this way is what makes the registry/columnar state "rebuildable"
// after a restart with no separate manifest file.
func (c *catalog) rebuild(root string) error {
	tenants, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, tenantEnt := range tenants {
		if !tenantEnt.IsDir() {
			continue
		}
		tenant := tenantEnt.Name()
		days, err := os.ReadDir(filepath.Join(root, tenant))
		if err != nil {
			return err
		}
		for _, dayEnt := range days {
			if !dayEnt.IsDir() {
				continue
			}
			day := dayEnt.Name()
			partitions, err := os.ReadDir(filepath.Join(root, tenant, day))
			if err != nil {
				return err
			}
			for _, partEnt := range partitions {
				if !partEnt.IsDir() {
					continue
				}
				partitionID, err := strconv.Atoi(partEnt.Name())
				if err != nil {
					continue
				}
				if err := c.rebuildPartition(root, tenant, day, partitionID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *catalog) rebuildPartition(root, tenant, day string, partitionID int) error {
	dir := filepath.Join(root, tenant, day, strconv.Itoa(partitionID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && isBatchFile(e.Name()) && !strings.HasSuffix(e.Name(), ".tmp") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	k := key{tenant: tenant, day: day, partition: partitionID}
	var seq int64
	for _, name := range names {
		path := filepath.Join(dir, name)
		cf, err := readFile(path)
		if err != nil {
			return err
		}
		batchID := filepath.Join(tenant, day, strconv.Itoa(partitionID), name)
		c.files[batchID] = cf
		c.ranges[k] = append(c.ranges[k], seqRange{start: seq, rowCount: len(cf.rows), batchID: batchID})
		seq += int64(len(cf.rows))
	}
	return nil
}
