package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultSegmentMaxBytes is the default segment rotation size (§4.2: "64
// MiB").
const DefaultSegmentMaxBytes = 64 << 20

// segment is one rotated file within a partition's WAL directory.
type segment struct {
	index int64
	path  string
	file  *os.File
	size  int64
}

func segmentPath(dir string, index int64) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%010d.log", index))
}

// openSegmentForAppend opens (creating if needed) the segment at index for
// appending, positioned at the end of the file.
func openSegmentForAppend(dir string, index int64) (*segment, error) {
	path := segmentPath(dir, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat segment %s: %w", path, err)
	}
	return &segment{index: index, path: path, file: f, size: info.Size()}, nil
}

// listSegments returns the segment indexes present in dir, sorted
// ascending. A fresh directory has none.
func listSegments(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: read segment dir %s: %w", dir, err)
	}
	var indexes []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "segment-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "segment-"), ".log")
		n, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			continue
		}
		indexes = append(indexes, n)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	return indexes, nil
}

func (s *segment) append(b []byte) error {
	n, err := s.file.Write(b)
	if err != nil {
		return fmt.Errorf("wal: write segment %s: %w", s.path, err)
	}
	s.size += int64(n)
	return nil
}

func (s *segment) sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync segment %s: %w", s.path, err)
	}
	return nil
}

func (s *segment) close() error {
	return s.file.Close()
}

// truncate cuts the segment file to offset bytes, discarding a torn tail.
func (s *segment) truncate(offset int64) error {
	if err := s.file.Truncate(offset); err != nil {
		return fmt.Errorf("wal: truncate segment %s: %w", s.path, err)
	}
	if _, err := s.file.Seek(offset, 0); err != nil {
		return fmt.Errorf("wal: seek segment %s: %w", s.path, err)
	}
	s.size = offset
	return nil
}
