package compactor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/eventcore/pkg/columnar"
	ecolog "github.com/cuemby/eventcore/pkg/log"
	"github.com/cuemby/eventcore/pkg/wal"
)

// Config controls when a (tenant, day, partition) group is eligible for
// merge and how many merges run concurrently.
type Config struct {
	// MinFiles is the file-count threshold a group must cross before
	// CompactPartition is attempted (§4.11 "once their cumulative count
	// crosses a threshold").
	MinFiles int
	// MaxConcurrency bounds how many partition merges run at once, the
	// same errgroup.SetLimit pattern pkg/ingest uses for batch fan-out.
	MaxConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MinFiles <= 0 {
		c.MinFiles = 8
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	return c
}

// Compactor is the C11 background task: it owns no state of its own,
// operating entirely through the columnar store's catalog and the WAL's
// per-partition segment list.
type Compactor struct {
	cfg   Config
	store *columnar.Store
	wal   *wal.WAL

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}

	lastBacklog int
}

// New builds a Compactor over an already-open store and WAL.
func New(cfg Config, store *columnar.Store, w *wal.WAL) *Compactor {
	return &Compactor{
		cfg:    cfg.withDefaults(),
		store:  store,
		wal:    w,
		logger: ecolog.WithComponent("compactor"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the tick loop, running Run every interval until Stop.
func (c *Compactor) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Run(); err != nil {
					c.logger.Error().Err(err).Msg("compaction cycle failed")
				}
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends the tick loop. Not safe to call twice.
func (c *Compactor) Stop() {
	close(c.stopCh)
}

// Run executes one compaction cycle: merge every partition group that
// crosses MinFiles, then prune WAL segments that are now wholly superseded
// by durable columnar flushes. A failure merging one group does not stop
// the others (§4.11 never blocks the ingest path).
func (c *Compactor) Run() error {
	summaries := c.store.Partitions()

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)

	backlog := 0
	var mu sync.Mutex

	for _, s := range summaries {
		s := s
		if s.FileCount < c.cfg.MinFiles {
			continue
		}
		mu.Lock()
		backlog++
		mu.Unlock()

		g.Go(func() error {
			merged, err := c.store.CompactPartition(s.TenantID, s.Day, s.PartitionID, c.cfg.MinFiles)
			if err != nil {
				c.logger.Error().Err(err).
					Str("tenant_id", s.TenantID).
					Str("day", s.Day).
					Int("partition", s.PartitionID).
					Msg("compact partition failed")
				return nil
			}
			if merged {
				c.logger.Info().
					Str("tenant_id", s.TenantID).
					Str("day", s.Day).
					Int("partition", s.PartitionID).
					Msg("merged columnar files")
			}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	c.lastBacklog = backlog
	c.mu.Unlock()

	return c.pruneWAL(summaries)
}

// pruneWAL flushes every live columnar buffer and then truncates WAL
// segments whose whole LSN range predates the flush, for every partition
// id that currently carries columnar data (§4.11 "Also runs WAL segment
// pruning once all records in a segment are confirmed in C3"). Flushing
// first guarantees every record the active segment might cover is already
// durable in the columnar store before any segment is removed; the WAL's
// own TruncateBefore never touches the still-active segment, so this
// cannot discard a record that hasn't been both WAL-appended and
// columnar-flushed.
func (c *Compactor) pruneWAL(summaries []columnar.PartitionSummary) error {
	partitionIDs := make(map[int]struct{})
	for _, s := range summaries {
		if _, err := c.store.FlushPartition(s.TenantID, s.Day, s.PartitionID); err != nil {
			c.logger.Warn().Err(err).
				Str("tenant_id", s.TenantID).
				Str("day", s.Day).
				Int("partition", s.PartitionID).
				Msg("flush before WAL prune failed")
			continue
		}
		partitionIDs[s.PartitionID] = struct{}{}
	}

	for id := range partitionIDs {
		p := c.wal.Partition(id)
		if err := p.TruncateBefore(p.NextLSN()); err != nil {
			c.logger.Warn().Err(err).Int("partition", id).Msg("wal prune failed")
		}
	}
	return nil
}

// Backlog reports how many partition groups were over threshold on the
// last cycle, for the metrics collector (§4.11 "compaction backlog").
func (c *Compactor) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBacklog
}
