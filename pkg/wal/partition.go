package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/cuemby/eventcore/pkg/config"
	"github.com/cuemby/eventcore/pkg/eventerr"
	walog "github.com/cuemby/eventcore/pkg/log"
)

// Config configures a single partition's WAL behavior. Values come from
// pkg/config (environment-derived) so the caller does not reimplement
// default resolution.
type Config struct {
	SyncMode        config.SyncMode
	BatchN          int
	BatchMs         int
	SegmentMaxBytes int64
}

// appendRequest is one pending Append call waiting on the commit loop. A
// barrier request carries no frame and exists only to have the caller
// block until every previously queued request has been committed.
type appendRequest struct {
	frame    Frame
	barrier  bool
	resultCh chan appendResult
}

type appendResult struct {
	lsn int64
	err error
}

// Partition is the single-writer, segmented WAL for one stream partition
// (§4.2, §5: "single writer per partition, group commit"). All appends
// from any goroutine are serialized through an internal commit loop.
type Partition struct {
	id     int
	dir    string
	cfg    Config
	logger zerolog.Logger

	lock *flock.Flock

	mu              sync.Mutex // guards segments/nextLSN/active between commitLoop and IterFrom/TruncateBefore
	active          *segment
	segmentIndexes  []int64
	segmentFirstLSN map[int64]int64
	nextLSN         int64

	reqCh  chan appendRequest
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// OpenPartition opens (and recovers) the WAL for one partition, creating
// its directory if necessary.
func OpenPartition(dataDir string, partitionID int, cfg Config) (*Partition, error) {
	if cfg.SegmentMaxBytes <= 0 {
		cfg.SegmentMaxBytes = DefaultSegmentMaxBytes
	}
	if cfg.BatchN <= 0 {
		cfg.BatchN = 1
	}
	dir := filepath.Join(dataDir, "wal", fmt.Sprintf("%d", partitionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create partition dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("wal: lock partition %d: %w", partitionID, err)
	}
	if !locked {
		return nil, fmt.Errorf("wal: partition %d is already open by another process", partitionID)
	}

	p := &Partition{
		id:              partitionID,
		dir:             dir,
		cfg:             cfg,
		logger:          walog.WithPartition(partitionID),
		lock:            lock,
		segmentFirstLSN: make(map[int64]int64),
		reqCh:           make(chan appendRequest, 1024),
		stopCh:          make(chan struct{}),
	}

	if err := p.recover(); err != nil {
		lock.Unlock()
		return nil, err
	}

	p.wg.Add(1)
	go p.commitLoop()
	return p, nil
}

// recover scans all segments in order, rebuilding LSN bookkeeping and
// truncating a torn tail (§4.2: "Recovery on startup scans segments in
// order... a torn tail is truncated").
func (p *Partition) recover() error {
	indexes, err := listSegments(p.dir)
	if err != nil {
		return err
	}
	if len(indexes) == 0 {
		seg, err := openSegmentForAppend(p.dir, 0)
		if err != nil {
			return err
		}
		p.active = seg
		p.segmentIndexes = []int64{0}
		p.segmentFirstLSN[0] = 0
		p.nextLSN = 0
		return nil
	}

	p.segmentIndexes = indexes
	var lsn int64
	for i, idx := range indexes {
		p.segmentFirstLSN[idx] = lsn
		path := segmentPath(p.dir, idx)
		f, err := os.OpenFile(path, os.O_RDWR, 0o600)
		if err != nil {
			return fmt.Errorf("wal: open segment for recovery: %w", err)
		}

		var offset int64
		for {
			_, consumed, derr := decodeFrame(f)
			if derr == io.EOF {
				break
			}
			if derr != nil {
				// Torn tail: truncate this segment here and stop scanning
				// entirely — only the last segment should ever have a torn
				// record, but we defensively stop at the first one found.
				p.logger.Warn().Str("segment", path).Int64("offset", offset).Msg("truncating torn WAL tail")
				if terr := truncateFile(f, offset); terr != nil {
					f.Close()
					return terr
				}
				f.Close()
				info, _ := os.Stat(path)
				size := int64(0)
				if info != nil {
					size = info.Size()
				}
				p.active = &segment{index: idx, path: path, size: size}
				goto reopenActive
			}
			offset += consumed
			lsn++
		}
		f.Close()

		if i == len(indexes)-1 {
			seg, err := openSegmentForAppend(p.dir, idx)
			if err != nil {
				return err
			}
			p.active = seg
		}
	}

	p.nextLSN = lsn
	return nil

reopenActive:
	seg, err := openSegmentForAppend(p.dir, p.active.index)
	if err != nil {
		return err
	}
	p.active = seg
	p.nextLSN = lsn
	return nil
}

func truncateFile(f *os.File, offset int64) error {
	return f.Truncate(offset)
}

// Append durably appends one event frame and returns its assigned LSN. The
// call blocks until the frame's durability guarantee for the configured
// sync mode is met (fsync'd for sync/batch, best-effort for async).
func (p *Partition) Append(frame Frame) (int64, error) {
	req := appendRequest{frame: frame, resultCh: make(chan appendResult, 1)}
	select {
	case p.reqCh <- req:
	case <-p.stopCh:
		return 0, &eventerr.StorageUnavailable{Op: "wal.append", Err: fmt.Errorf("partition closed")}
	}
	res := <-req.resultCh
	return res.lsn, res.err
}

// commitLoop is the single writer for this partition: it batches pending
// Append calls by count or time (§4.2 "batch" mode), or commits them one
// at a time for "sync" mode, and skips fsync entirely for "async". On stop
// it commits every request still queued before returning.
func (p *Partition) commitLoop() {
	defer p.wg.Done()
	batchWindow := time.Duration(p.cfg.BatchMs) * time.Millisecond
	if batchWindow <= 0 {
		batchWindow = time.Millisecond
	}
	batchLimit := p.cfg.BatchN
	if p.cfg.SyncMode == config.SyncModeSync {
		batchLimit = 1
	}
	drainQueued := func(batch []appendRequest) []appendRequest {
		for {
			select {
			case req := <-p.reqCh:
				batch = append(batch, req)
			default:
				return batch
			}
		}
	}

	for {
		var batch []appendRequest
		select {
		case req := <-p.reqCh:
			batch = append(batch, req)
		case <-p.stopCh:
			p.commit(drainQueued(nil))
			return
		}

		timer := time.NewTimer(batchWindow)
	drain:
		for len(batch) < batchLimit {
			select {
			case req := <-p.reqCh:
				batch = append(batch, req)
			case <-timer.C:
				break drain
			case <-p.stopCh:
				timer.Stop()
				p.commit(drainQueued(batch))
				return
			}
		}
		timer.Stop()

		p.commit(batch)
	}
}

// commit writes and (per sync mode) fsyncs one batch of frames, assigning
// each a sequential LSN, then replies to every waiter.
func (p *Partition) commit(batch []appendRequest) {
	if len(batch) == 0 {
		return
	}

	p.mu.Lock()
	lsns := make([]int64, len(batch))
	errs := make([]error, len(batch))
	var fatalErr error
	for i, req := range batch {
		if fatalErr != nil {
			errs[i] = fatalErr
			continue
		}
		if req.barrier {
			lsns[i] = p.nextLSN - 1
			continue
		}
		if p.active.size >= p.cfg.SegmentMaxBytes {
			if err := p.rotateLocked(); err != nil {
				fatalErr = &eventerr.StorageUnavailable{Op: "wal.rotate", Err: err}
				errs[i] = fatalErr
				continue
			}
		}

		encoded, err := Encode(req.frame)
		if err != nil {
			errs[i] = err
			continue
		}
		if err := p.active.append(encoded); err != nil {
			fatalErr = &eventerr.StorageUnavailable{Op: "wal.append", Err: err}
			errs[i] = fatalErr
			continue
		}
		lsns[i] = p.nextLSN
		p.nextLSN++
	}

	var syncErr error
	if fatalErr == nil && p.cfg.SyncMode != config.SyncModeAsync {
		syncErr = p.active.sync()
	}
	p.mu.Unlock()

	for i, req := range batch {
		if errs[i] != nil {
			req.resultCh <- appendResult{err: errs[i]}
			continue
		}
		if syncErr != nil {
			req.resultCh <- appendResult{err: &eventerr.StorageUnavailable{Op: "wal.fsync", Err: syncErr}}
			continue
		}
		req.resultCh <- appendResult{lsn: lsns[i]}
	}
}

// rotateLocked closes the active segment and opens the next one. Caller
// must hold p.mu.
func (p *Partition) rotateLocked() error {
	if err := p.active.close(); err != nil {
		return err
	}
	nextIdx := p.active.index + 1
	seg, err := openSegmentForAppend(p.dir, nextIdx)
	if err != nil {
		return err
	}
	p.active = seg
	p.segmentIndexes = append(p.segmentIndexes, nextIdx)
	p.segmentFirstLSN[nextIdx] = p.nextLSN
	return nil
}

// Flush blocks until all currently queued appends have been committed and
// (outside async mode) fsync'd. Useful in async mode before a controlled
// shutdown.
func (p *Partition) Flush() error {
	req := appendRequest{barrier: true, resultCh: make(chan appendResult, 1)}
	select {
	case p.reqCh <- req:
	case <-p.stopCh:
		return nil
	}
	res := <-req.resultCh
	return res.err
}

// NextLSN returns the LSN that will be assigned to the next appended
// frame, for a caller (the compactor) that needs a watermark to prune
// against once it knows everything up to that point is durably flushed
// in C3.
func (p *Partition) NextLSN() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextLSN
}

// SegmentCount reports how many segment files this partition currently
// has on disk, for the metrics collector's WalSegmentsTotal gauge.
func (p *Partition) SegmentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.segmentIndexes)
}

// TruncateBefore deletes every closed segment file whose entire LSN range
// falls below beforeLSN, leaving the active segment untouched (§4.11:
// "runs WAL segment pruning once all records in a segment are confirmed
// in C3"). The caller is responsible for only calling this once C3 has
// durably flushed everything up to beforeLSN.
func (p *Partition) TruncateBefore(beforeLSN int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.segmentIndexes) <= 1 {
		return nil
	}

	kept := make([]int64, 0, len(p.segmentIndexes))
	for i, idx := range p.segmentIndexes {
		if idx == p.active.index {
			kept = append(kept, idx)
			continue
		}

		var upperBound int64
		if i+1 < len(p.segmentIndexes) {
			upperBound = p.segmentFirstLSN[p.segmentIndexes[i+1]]
		} else {
			upperBound = p.nextLSN
		}
		if upperBound > beforeLSN {
			kept = append(kept, idx)
			continue
		}

		if err := os.Remove(segmentPath(p.dir, idx)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("wal: remove segment %d: %w", idx, err)
		}
		delete(p.segmentFirstLSN, idx)
	}
	p.segmentIndexes = kept
	return nil
}

// Close stops the commit loop and releases the partition's file lock. Any
// appends still queued are committed first.
func (p *Partition) Close() error {
	close(p.stopCh)
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.active.close(); err != nil {
		return err
	}
	return p.lock.Unlock()
}
