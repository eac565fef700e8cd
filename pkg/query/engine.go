package query

import (
	"context"
	"sort"

	"github.com/cuemby/eventcore/pkg/columnar"
	"github.com/cuemby/eventcore/pkg/event"
	"github.com/cuemby/eventcore/pkg/eventerr"
	"github.com/cuemby/eventcore/pkg/index"
)

// Fetcher resolves an index.IndexEntry to its event. Satisfied by
// *columnar.Store directly or by *index.Cache wrapping it.
type Fetcher interface {
	Fetch(entry index.IndexEntry) (*event.Event, error)
}

// Engine answers C7 queries by picking the narrowest available index for
// the request's shape, then streaming candidate locations through a
// Fetcher and a predicate tree.
type Engine struct {
	indexes *index.Indexes
	store   *columnar.Store
	fetcher Fetcher
}

// New returns an Engine. fetcher is typically an *index.Cache wrapping
// store, but store is kept directly too since Query's range scan goes
// straight to the columnar layer rather than through an index.
func New(indexes *index.Indexes, store *columnar.Store, fetcher Fetcher) *Engine {
	return &Engine{indexes: indexes, store: store, fetcher: fetcher}
}

// Stats reports per-tenant counters for operational visibility (§4.7
// stats()).
type Stats struct {
	Events   int64
	Bytes    int64
	Entities int
	Types    int
}

// Stats returns tenantID's event/byte counts from the columnar store and
// distinct entity/type counts from the in-memory indexes.
func (e *Engine) Stats(tenantID string) Stats {
	events, bytes := e.store.Stats(tenantID)

	entities := 0
	for _, k := range e.indexes.EntityKeys() {
		if tenantOwnsKey(e.indexes.ByEntity(k), tenantID) {
			entities++
		}
	}
	types := 0
	for _, k := range e.indexes.TypeKeys() {
		if tenantOwnsKey(e.indexes.ByType(k), tenantID) {
			types++
		}
	}

	return Stats{Events: events, Bytes: bytes, Entities: entities, Types: types}
}

func tenantOwnsKey(entries []index.IndexEntry, tenantID string) bool {
	for _, e := range entries {
		if e.TenantID == tenantID {
			return true
		}
	}
	return false
}

// QueryByEntity returns entityID's events for tenantID sorted by
// timestamp, then stream, then version, narrowed by entity_index (the
// narrowest index available for this shape), filtered by f.
func (e *Engine) QueryByEntity(ctx context.Context, tenantID, entityID string, f *Filter) ([]*event.Event, error) {
	entries := e.indexes.ByEntity(entityID)
	return e.resolveEntries(ctx, tenantID, entries, f)
}

// QueryByType returns eventType's events for tenantID in the same order as
// QueryByEntity, narrowed by type_index.
func (e *Engine) QueryByType(ctx context.Context, tenantID, eventType string, f *Filter) ([]*event.Event, error) {
	entries := e.indexes.ByType(eventType)
	return e.resolveEntries(ctx, tenantID, entries, f)
}

func (e *Engine) resolveEntries(ctx context.Context, tenantID string, entries []index.IndexEntry, f *Filter) ([]*event.Event, error) {
	var out []*event.Event
	for _, entry := range entries {
		if entry.TenantID != tenantID {
			// entity_index/type_index keys are not tenant-scoped, so a
			// collision on the key string across tenants is possible; this
			// check is the safety net that keeps tenant isolation intact.
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, &eventerr.QueryTimeout{LastTimestampMicros: lastTimestamp(out)}
		}
		evt, err := e.fetcher.Fetch(entry)
		if err != nil {
			return nil, err
		}
		if f != nil && !f.Eval(evt) {
			continue
		}
		out = append(out, evt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessByOrdering(out[i], out[j])
	})
	return out, nil
}

// Query performs a tenant-wide range scan across [fromMicros, toMicros],
// applying f and resuming after cursor if non-nil, stopping once limit
// results are collected or limit is 0 for unbounded. Deadline
// cancellation surfaces as eventerr.QueryTimeout carrying the last
// timestamp processed, so the caller can resume with a fresh cursor
// (§5's cancellation model).
func (e *Engine) Query(ctx context.Context, tenantID string, fromMicros, toMicros int64, f *Filter, cursor *Cursor, limit int) ([]*event.Event, *Cursor, error) {
	var out []*event.Event
	var lastTS int64
	var lastStream string
	var lastVersion int64
	var timedOut bool

	err := e.store.Scan(tenantID, fromMicros, toMicros, func(evt *event.Event) bool {
		return f == nil || f.Eval(evt)
	}, func(evt *event.Event) bool {
		if err := ctx.Err(); err != nil {
			timedOut = true
			return false
		}
		if cursor != nil && !cursor.After(evt.TimestampMicros, evt.StreamID, evt.Version) {
			return true
		}
		out = append(out, evt)
		lastTS, lastStream, lastVersion = evt.TimestampMicros, evt.StreamID, evt.Version
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, nil, err
	}
	if timedOut {
		return out, nil, &eventerr.QueryTimeout{LastTimestampMicros: lastTS}
	}

	var next *Cursor
	if limit > 0 && len(out) == limit {
		next = &Cursor{TimestampMicros: lastTS, StreamID: lastStream, Version: lastVersion}
	}
	return out, next, nil
}

func lastTimestamp(events []*event.Event) int64 {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].TimestampMicros
}

// lessByOrdering implements the engine's fixed tie-break: timestamp, then
// stream, then version ascending (§4.7).
func lessByOrdering(a, b *event.Event) bool {
	if a.TimestampMicros != b.TimestampMicros {
		return a.TimestampMicros < b.TimestampMicros
	}
	if a.StreamID != b.StreamID {
		return a.StreamID < b.StreamID
	}
	return a.Version < b.Version
}
