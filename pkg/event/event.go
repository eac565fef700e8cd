// Package event defines the immutable event record (C1) and its two
// construction paths: a validated constructor for untrusted input and a
// fast constructor for callers that have already validated upstream.
package event

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/eventcore/pkg/eventerr"
)

// MaxEventTypeLen is the maximum length of an event type string (§4.1).
const MaxEventTypeLen = 256

// MaxEntityIDLen is the maximum length of an entity identifier (§4.1).
const MaxEntityIDLen = 256

var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,256}$`)

// Event is an immutable record of something that happened in one tenant's
// stream. Once constructed, an Event's fields are never mutated; a caller
// that needs a modified copy builds a new Event.
type Event struct {
	ID       uuid.UUID
	TenantID string
	StreamID string
	Version  int64
	Type     string
	EntityID string
	Payload  json.RawMessage
	Metadata json.RawMessage
	// TimestampMicros is UTC microsecond-precision wall time, assigned at
	// acceptance (§3). It is not set by New/NewFast — the ingest pipeline
	// assigns it under the per-stream monotonic rule in §4.6 step 4.
	TimestampMicros int64
}

// Request is the caller-supplied shape of a not-yet-versioned,
// not-yet-timestamped event, as received by the ingest pipeline.
type Request struct {
	TenantID        string
	StreamID        string
	Type            string
	EntityID        string
	Payload         json.RawMessage
	Metadata        json.RawMessage
	ExpectedVersion *int64 // optional optimistic-concurrency check
}

// MaxPayloadBytes is the default payload size ceiling (§4.1); the ingest
// pipeline is configured with the value from pkg/config instead of this
// constant, which exists only as the fallback for direct New calls.
const MaxPayloadBytes = 1 << 20

// New validates req against §4.1's rules and returns an Event with a fresh
// ID. Version and TimestampMicros are left zero — the caller (normally the
// ingest pipeline) assigns them after reserving a version.
//
// New is the validated path: it is the only constructor that should be
// reachable from an untrusted caller.
func New(req Request, maxPayloadBytes int64) (*Event, error) {
	if !eventTypePattern.MatchString(req.Type) {
		return nil, &eventerr.InvalidEvent{Field: "event_type", Reason: "must match [a-zA-Z0-9._-]{1,256}"}
	}
	if req.EntityID == "" || len(req.EntityID) > MaxEntityIDLen {
		return nil, &eventerr.InvalidEvent{Field: "entity_id", Reason: "must be non-empty and at most 256 bytes"}
	}
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = MaxPayloadBytes
	}
	if int64(len(req.Payload)) > maxPayloadBytes {
		return nil, &eventerr.InvalidEvent{Field: "payload", Reason: "exceeds configured maximum size"}
	}
	streamID := req.StreamID
	if streamID == "" {
		streamID = req.EntityID
	}
	return &Event{
		ID:       uuid.New(),
		TenantID: req.TenantID,
		StreamID: streamID,
		Type:     req.Type,
		EntityID: req.EntityID,
		Payload:  req.Payload,
		Metadata: req.Metadata,
	}, nil
}

// NewFast skips semantic validation. It is reachable only from trusted
// internal callers: the ingest pipeline uses it when Ingest is called with
// trusted set, and WAL decoding uses it to rebuild recovered events.
// Malformed event types or oversized payloads passed through NewFast are
// stored as given, since nothing downstream rejects them with
// InvalidEvent, so callers must have already validated.
func NewFast(req Request) *Event {
	streamID := req.StreamID
	if streamID == "" {
		streamID = req.EntityID
	}
	return &Event{
		ID:       uuid.New(),
		TenantID: req.TenantID,
		StreamID: streamID,
		Type:     req.Type,
		EntityID: req.EntityID,
		Payload:  req.Payload,
		Metadata: req.Metadata,
	}
}

// Clone returns a deep copy of e, safe for a caller to mutate without
// affecting the owning buffer e was sourced from (§4.1: "sharing is by
// clone of the owning buffer or by reference to an owned arena entry").
func (e *Event) Clone() *Event {
	clone := *e
	if e.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.Metadata != nil {
		clone.Metadata = append(json.RawMessage(nil), e.Metadata...)
	}
	return &clone
}

// Timestamp returns TimestampMicros as a time.Time in UTC.
func (e *Event) Timestamp() time.Time {
	return time.UnixMicro(e.TimestampMicros).UTC()
}
