package wal

import (
	"fmt"

	"github.com/cuemby/eventcore/pkg/config"
)

// WAL owns one Partition per stream partition and is the unit an Engine
// opens and closes at startup/shutdown.
type WAL struct {
	dataDir    string
	partitions []*Partition
}

// Open opens (recovering as needed) the WAL for every partition
//0..cfg.PartitionCount-1.
func Open(cfg *config.Config) (*WAL, error) {
	pcfg := Config{
		SyncMode:        cfg.WalSyncMode,
		BatchN:          cfg.WalBatchN,
		BatchMs:         cfg.WalBatchMs,
		SegmentMaxBytes: DefaultSegmentMaxBytes,
	}

	w := &WAL{dataDir: cfg.DataDir, partitions: make([]*Partition, cfg.PartitionCount)}
	for i := 0; i < cfg.PartitionCount; i++ {
		p, err := OpenPartition(cfg.DataDir, i, pcfg)
		if err != nil {
			w.closeOpened(i)
			return nil, fmt.Errorf("wal: open partition %d: %w", i, err)
		}
		w.partitions[i] = p
	}
	return w, nil
}

func (w *WAL) closeOpened(upTo int) {
	for i := 0; i < upTo; i++ {
		w.partitions[i].Close()
	}
}

// Partition returns the WAL handle for a given partition id.
func (w *WAL) Partition(id int) *Partition {
	return w.partitions[id]
}

// Close closes every partition's WAL.
func (w *WAL) Close() error {
	var firstErr error
	for _, p := range w.partitions {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
