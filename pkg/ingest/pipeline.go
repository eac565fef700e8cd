package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/eventcore/pkg/columnar"
	"github.com/cuemby/eventcore/pkg/event"
	"github.com/cuemby/eventcore/pkg/index"
	ecolog "github.com/cuemby/eventcore/pkg/log"
	"github.com/cuemby/eventcore/pkg/registry"
	"github.com/cuemby/eventcore/pkg/tenant"
	"github.com/cuemby/eventcore/pkg/wal"
)

// Publisher receives every durably confirmed event for non-blocking
// fan-out to C10 subscribers (§4.6 step 8). Implemented by pkg/projection;
// declared here to avoid an import cycle.
type Publisher interface {
	Publish(e *event.Event)
}

// Receipt is returned by a successful Ingest call.
type Receipt struct {
	EventID         uuid.UUID
	StreamID        string
	Version         int64
	TimestampMicros int64
}

// Config configures validation limits the pipeline enforces on untrusted
// requests.
type Config struct {
	MaxPayloadBytes int64
}

// Pipeline is the C6 ingest entry point, wired to one instance each of
// C12, C4, C2, C5, and C3, plus an optional C10 publisher.
type Pipeline struct {
	cfg        Config
	accounting *tenant.Accounting
	registry   *registry.Registry
	wal        *wal.WAL
	indexes    *index.Indexes
	store      *columnar.Store
	publisher  Publisher
	latches    *streamLatches
	logger     zerolog.Logger
}

// New builds a Pipeline over already-open components. publisher may be nil
// (no fan-out).
func New(cfg Config, accounting *tenant.Accounting, reg *registry.Registry, w *wal.WAL, indexes *index.Indexes, store *columnar.Store, publisher Publisher) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		accounting: accounting,
		registry:   reg,
		wal:        w,
		indexes:    indexes,
		store:      store,
		publisher:  publisher,
		latches:    newStreamLatches(),
		logger:     ecolog.WithComponent("ingest"),
	}
}

// Ingest drives req through the full pipeline (§4.6). trusted skips C1
// semantic validation for pre-validated front-end callers.
func (p *Pipeline) Ingest(req event.Request, trusted bool) (Receipt, error) {
	nowMicros := time.Now().UnixMicro()

	// 1. Admission: quota-gated on event count. check_and_increment is
	// atomic and leaves counters untouched on rejection (§4.12).
	if err := p.accounting.CheckAndIncrement(req.TenantID, "events", 1, nowMicros); err != nil {
		return Receipt{}, err
	}

	// 2. Validation.
	var evt *event.Event
	if trusted {
		evt = event.NewFast(req)
	} else {
		var err error
		evt, err = event.New(req, p.cfg.MaxPayloadBytes)
		if err != nil {
			return Receipt{}, err
		}
	}
	streamID := evt.StreamID

	unlock := p.latches.lock(streamID)
	defer unlock()

	// 3. Version reservation.
	version, partitionID, err := p.registry.ReserveVersion(req.TenantID, streamID, req.ExpectedVersion, nowMicros)
	if err != nil {
		return Receipt{}, err
	}

	// 4. Timestamp assignment (I6: non-decreasing within a stream).
	ts := p.latches.nextTimestamp(streamID, nowMicros)
	evt.Version = version
	evt.TimestampMicros = ts

	// 5. WAL append. A failure here must roll back the reservation.
	lsn, err := p.wal.Partition(partitionID).Append(wal.Frame{
		TenantID: req.TenantID,
		StreamID: streamID,
		Version:  version,
		Event:    evt,
	})
	if err != nil {
		if aerr := p.registry.AbortVersion(streamID, version); aerr != nil {
			p.logger.Warn().Err(aerr).Str("stream_id", streamID).Msg("abort_version failed after wal append error")
		}
		return Receipt{}, err
	}
	_ = lsn

	// 6. Index update. The columnar row buffer is appended to first so the
	// IndexEntry carries a resolvable (possibly still-live) location.
	seq, _, err := p.store.Append(req.TenantID, partitionID, evt)
	if err != nil {
		return Receipt{}, err
	}
	entry := index.IndexEntry{TenantID: req.TenantID, Partition: partitionID, OffsetInBatch: int(seq), TimestampMicros: ts}
	p.indexes.AppendEntity(evt.EntityID, entry)
	p.indexes.AppendType(evt.Type, entry)

	// 7. Watermark confirm.
	if err := p.registry.Confirm(streamID, version); err != nil {
		p.logger.Warn().Err(err).Str("stream_id", streamID).Msg("confirm failed after durable append")
	}

	// 8. Publication: non-blocking, never allowed to fail ingest.
	if p.publisher != nil {
		p.publisher.Publish(evt)
	}

	// 9. Accounting: bytes are metered after the fact since the event is
	// already durable by this point; a bytes-quota rejection here is
	// logged, not surfaced, because unwinding a confirmed append is not
	// an option (§7 "partial writes are never exposed" cuts the other way
	// once WAL append has succeeded).
	if err := p.accounting.CheckAndIncrement(req.TenantID, "bytes", int64(len(req.Payload)+len(req.Metadata)), nowMicros); err != nil {
		p.logger.Warn().Err(err).Str("tenant_id", req.TenantID).Msg("bytes quota exceeded after durable ingest")
	}

	return Receipt{EventID: evt.ID, StreamID: streamID, Version: version, TimestampMicros: ts}, nil
}
