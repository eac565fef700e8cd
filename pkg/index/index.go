package index

// Indexes owns the two primary in-memory indexes described in §4.5:
// entity_index (keyed by entity_id) and type_index (keyed by event_type).
type Indexes struct {
	byEntity *shardedMap
	byType   *shardedMap
}

// New returns an empty pair of indexes.
func New() *Indexes {
	return &Indexes{byEntity: newShardedMap(), byType: newShardedMap()}
}

// AppendEntity records entry under entityID in entity_index. Callers must
// only call this after the corresponding WAL append has been confirmed
// durable (§4.5 contract, I3).
func (ix *Indexes) AppendEntity(entityID string, entry IndexEntry) {
	ix.byEntity.Append(entityID, entry)
}

// AppendType records entry under eventType in type_index.
func (ix *Indexes) AppendType(eventType string, entry IndexEntry) {
	ix.byType.Append(eventType, entry)
}

// ByEntity returns a consistent-prefix snapshot of entity_index's list for
// entityID, ordered by append order (§4.5: timestamp ascending in
// practice, since ingest assigns monotonically increasing timestamps).
func (ix *Indexes) ByEntity(entityID string) []IndexEntry {
	return ix.byEntity.Snapshot(entityID)
}

// ByType returns a consistent-prefix snapshot of type_index's list for
// eventType.
func (ix *Indexes) ByType(eventType string) []IndexEntry {
	return ix.byType.Snapshot(eventType)
}

// EntityCount and TypeCount report the total number of indexed entries,
// used by the metrics collector to report index shard depth.
func (ix *Indexes) EntityCount() int { return ix.byEntity.Len() }
func (ix *Indexes) TypeCount() int   { return ix.byType.Len() }

// EntityKeys and TypeKeys list every distinct entity_id / event_type
// currently indexed, used by stats() and by a full scan that cannot narrow
// by a single entity or type predicate.
func (ix *Indexes) EntityKeys() []string { return ix.byEntity.Keys() }
func (ix *Indexes) TypeKeys() []string   { return ix.byType.Keys() }

// PurgeTenant removes every entry belonging to tenantID from both indexes.
// It is the administrative tenant-purge batch operation's only sanctioned
// way to delete index entries (§4.5 contract, I4).
func (ix *Indexes) PurgeTenant(tenantID string) {
	ix.byEntity.DeleteTenant(tenantID)
	ix.byType.DeleteTenant(tenantID)
}
