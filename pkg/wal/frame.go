package wal

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/google/uuid"

	"github.com/cuemby/eventcore/pkg/event"
)

// crcTable is the Castagnoli CRC32C polynomial table (§4.2: "CRC32C").
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// frameHeaderLen is the fixed-size prefix before the variable-length body:
// 4 bytes length + 4 bytes CRC32C.
const frameHeaderLen = 8

// Frame is one WAL record: a durable copy of an accepted event tagged with
// its assigned version, ready to be replayed in order.
type Frame struct {
	TenantID string
	StreamID string
	Version  int64
	Event    *event.Event
}

// frameBody is the on-disk JSON body of a Frame, excluding the length
// prefix and checksum.
type frameBody struct {
	TenantID        string          `json:"tenant_id"`
	StreamID        string          `json:"stream_id"`
	Version         int64           `json:"version"`
	EventID         string          `json:"event_id"`
	Type            string          `json:"type"`
	EntityID        string          `json:"entity_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	TimestampMicros int64           `json:"timestamp_micros"`
}

// Encode serializes f as a length-prefixed, CRC32C-checksummed frame.
func Encode(f Frame) ([]byte, error) {
	body := frameBody{
		TenantID:        f.TenantID,
		StreamID:        f.StreamID,
		Version:         f.Version,
		EventID:         f.Event.ID.String(),
		Type:            f.Event.Type,
		EntityID:        f.Event.EntityID,
		Payload:         f.Event.Payload,
		Metadata:        f.Event.Metadata,
		TimestampMicros: f.Event.TimestampMicros,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wal: encode frame: %w", err)
	}

	buf := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	checksum := crc32.Checksum(payload, crcTable)
	binary.BigEndian.PutUint32(buf[4:8], checksum)
	copy(buf[frameHeaderLen:], payload)
	return buf, nil
}

// decodeFrame reads exactly one frame from r, returning the frame, the
// total number of bytes consumed, and an error. io.EOF (clean end of
// segment) and errTornFrame (a truncated/corrupt trailing frame) are both
// returned as errors; callers distinguish them with errors.Is.
func decodeFrame(r io.Reader) (Frame, int64, error) {
	header := make([]byte, frameHeaderLen)
	n, err := io.ReadFull(r, header)
	if err == io.EOF {
		return Frame{}, 0, io.EOF
	}
	if err != nil {
		return Frame{}, int64(n), errTornFrame
	}

	length := binary.BigEndian.Uint32(header[0:4])
	wantChecksum := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	pn, err := io.ReadFull(r, payload)
	total := int64(frameHeaderLen + pn)
	if err != nil {
		return Frame{}, total, errTornFrame
	}

	gotChecksum := crc32.Checksum(payload, crcTable)
	if gotChecksum != wantChecksum {
		return Frame{}, total, errTornFrame
	}

	var body frameBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return Frame{}, total, errTornFrame
	}

	eventID, err := uuid.Parse(body.EventID)
	if err != nil {
		return Frame{}, total, errTornFrame
	}

	evt := event.NewFast(event.Request{
		TenantID: body.TenantID,
		StreamID: body.StreamID,
		Type:     body.Type,
		EntityID: body.EntityID,
		Payload:  body.Payload,
		Metadata: body.Metadata,
	})
	evt.ID = eventID
	evt.TimestampMicros = body.TimestampMicros

	return Frame{
		TenantID: body.TenantID,
		StreamID: body.StreamID,
		Version:  body.Version,
		Event:    evt,
	}, total, nil
}

// decodeFrameBytes decodes a single frame already fully read into mem,
// used by tests to check encode/decode round-tripping without I/O.
func decodeFrameBytes(b []byte) (Frame, error) {
	f, _, err := decodeFrame(bytes.NewReader(b))
	return f, err
}
