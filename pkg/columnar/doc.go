// Package columnar implements the columnar store (C3): batch-oriented,
// column-organized files partitioned by (tenant, day, partition). Events
// accumulate in an in-memory row buffer per partition and flush to an
// immutable file once the buffer crosses a configured row count, byte
// size, or age threshold.
//
// A closed file's header carries min/max summaries for version and
// timestamp plus the set of distinct event types it contains, so scan can
// skip a whole file without decoding it. The payload and metadata blob
// columns are zstd-compressed before the file is fsync'd; the fixed-width
// columns (event_id, stream_id, version, event_type, entity_id, timestamp)
// are kept as plain JSON arrays, mirroring the "compress the big blob
// column, leave the narrow columns raw" split.
package columnar
