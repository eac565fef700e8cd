package query

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursor is a restart token for a paginated or deadline-interrupted query
// (§4.7, §5): the (timestamp, stream, version) triple a caller resumes
// after, matching the engine's tie-break ordering.
type Cursor struct {
	TimestampMicros int64
	StreamID        string
	Version         int64
}

// After reports whether e's position in the ordering strictly follows c,
// used to skip already-delivered results on resume.
func (c Cursor) After(timestampMicros int64, streamID string, version int64) bool {
	if timestampMicros != c.TimestampMicros {
		return timestampMicros > c.TimestampMicros
	}
	if streamID != c.StreamID {
		return streamID > c.StreamID
	}
	return version > c.Version
}

// Encode renders c as an opaque, URL-safe token.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%d\x1f%s\x1f%d", c.TimestampMicros, c.StreamID, c.Version)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Cursor.Encode.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("query: decode cursor: %w", err)
	}
	parts := strings.Split(string(raw), "\x1f")
	if len(parts) != 3 {
		return Cursor{}, fmt.Errorf("query: malformed cursor")
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("query: malformed cursor timestamp: %w", err)
	}
	version, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("query: malformed cursor version: %w", err)
	}
	return Cursor{TimestampMicros: ts, StreamID: parts[1], Version: version}, nil
}
