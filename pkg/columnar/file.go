package columnar

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/cuemby/eventcore/pkg/event"
)

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

const fileMagic = "EVCOL"
const fileFormatVersion = 1

// header is the JSON-encoded preamble of a .col file: magic, format
// version, row count, the min/max and type summaries used to skip files
// during a scan, and the compressed blob section's length. It stores no
// column offsets; each section after it is length-prefixed instead.
type header struct {
	Magic       string   `json:"magic"`
	Version     int      `json:"version"`
	RowCount    int      `json:"row_count"`
	MinVersion  int64    `json:"min_version"`
	MaxVersion  int64    `json:"max_version"`
	MinTSMicros int64    `json:"min_ts_micros"`
	MaxTSMicros int64    `json:"max_ts_micros"`
	Types       []string `json:"types"`
	BlobLength  int64    `json:"blob_length"`
}

// row is one event's fixed-width columns; payload and metadata live in the
// compressed blob section, in the blob entry at the same index as the row.
type row struct {
	EventID         string `json:"event_id"`
	StreamID        string `json:"stream_id"`
	Version         int64  `json:"version"`
	EventType       string `json:"event_type"`
	EntityID        string `json:"entity_id"`
	TimestampMicros int64  `json:"timestamp_micros"`
}

type blobEntry struct {
	Payload  []byte `json:"payload,omitempty"`
	Metadata []byte `json:"metadata,omitempty"`
}

// writeFile encodes rows to path: an 8-byte length-prefixed JSON header,
// an 8-byte length-prefixed JSON row array, then a zstd-compressed JSON
// blob array — written to a temp file and renamed into place so a reader
// never observes a partial file (§4.3: "Files are immutable once closed").
func writeFile(path string, events []*event.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("columnar: refuse to write empty file %s", path)
	}

	rows := make([]row, len(events))
	blobs := make([]blobEntry, len(events))
	typeSet := make(map[string]struct{})

	h := header{Magic: fileMagic, Version: fileFormatVersion, RowCount: len(events)}
	h.MinVersion = events[0].Version
	h.MaxVersion = events[0].Version
	h.MinTSMicros = events[0].TimestampMicros
	h.MaxTSMicros = events[0].TimestampMicros

	for i, e := range events {
		rows[i] = row{
			EventID:         e.ID.String(),
			StreamID:        e.StreamID,
			Version:         e.Version,
			EventType:       e.Type,
			EntityID:        e.EntityID,
			TimestampMicros: e.TimestampMicros,
		}
		blobs[i] = blobEntry{Payload: e.Payload, Metadata: e.Metadata}
		typeSet[e.Type] = struct{}{}

		if e.Version < h.MinVersion {
			h.MinVersion = e.Version
		}
		if e.Version > h.MaxVersion {
			h.MaxVersion = e.Version
		}
		if e.TimestampMicros < h.MinTSMicros {
			h.MinTSMicros = e.TimestampMicros
		}
		if e.TimestampMicros > h.MaxTSMicros {
			h.MaxTSMicros = e.TimestampMicros
		}
	}
	for t := range typeSet {
		h.Types = append(h.Types, t)
	}

	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("columnar: encode rows: %w", err)
	}
	blobJSON, err := json.Marshal(blobs)
	if err != nil {
		return fmt.Errorf("columnar: encode blob: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("columnar: create zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(blobJSON, nil)
	_ = enc.Close()

	h.BlobLength = int64(len(compressed))

	headerJSON, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("columnar: encode header: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("columnar: create temp file: %w", err)
	}

	if err := writeSection(f, headerJSON); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := writeSection(f, rowsJSON); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := writeSection(f, compressed); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("columnar: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("columnar: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("columnar: rename into place: %w", err)
	}
	return nil
}

func writeSection(w io.Writer, b []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("columnar: write section length: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("columnar: write section body: %w", err)
	}
	return nil
}

func readSection(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("columnar: read section length: %w", err)
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("columnar: read section body: %w", err)
	}
	return buf, nil
}

// closedFile is an opened-for-read handle on an immutable .col file, with
// its decoded header, rows and blob entries kept in memory; readFile
// decompresses the blob section up front when the file is opened.
type closedFile struct {
	path  string
	h     header
	rows  []row
	blobs []blobEntry
}

func readFile(path string) (*closedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("columnar: open %s: %w", path, err)
	}
	defer f.Close()

	headerJSON, err := readSection(f)
	if err != nil {
		return nil, err
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, fmt.Errorf("columnar: decode header %s: %w", path, err)
	}
	if h.Magic != fileMagic {
		return nil, fmt.Errorf("columnar: %s: bad magic %q", path, h.Magic)
	}

	rowsJSON, err := readSection(f)
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := json.Unmarshal(rowsJSON, &rows); err != nil {
		return nil, fmt.Errorf("columnar: decode rows %s: %w", path, err)
	}

	compressed, err := readSection(f)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("columnar: create zstd decoder: %w", err)
	}
	defer dec.Close()
	blobJSON, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("columnar: decompress blob %s: %w", path, err)
	}

	var blobs []blobEntry
	if err := json.Unmarshal(blobJSON, &blobs); err != nil {
		return nil, fmt.Errorf("columnar: decode blob %s: %w", path, err)
	}

	return &closedFile{path: path, h: h, rows: rows, blobs: blobs}, nil
}

func (cf *closedFile) eventAt(i int) (*event.Event, error) {
	if i < 0 || i >= len(cf.rows) {
		return nil, fmt.Errorf("columnar: row %d out of range in %s", i, cf.path)
	}
	r := cf.rows[i]
	b := cf.blobs[i]

	id, err := parseUUID(r.EventID)
	if err != nil {
		return nil, fmt.Errorf("columnar: bad event id in %s: %w", cf.path, err)
	}

	return &event.Event{
		ID:              id,
		StreamID:        r.StreamID,
		Version:         r.Version,
		Type:            r.EventType,
		EntityID:        r.EntityID,
		Payload:         b.Payload,
		Metadata:        b.Metadata,
		TimestampMicros: r.TimestampMicros,
	}, nil
}
