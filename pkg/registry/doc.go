// Package registry implements the stream registry (C4): the mapping from a
// stream_id to its assigned partition, current version, and watermark.
// Partition assignment is by deterministic hash, stable across restarts, so
// recovery never needs to reassign a stream to a different WAL/columnar
// partition.
//
// reserve_version is the registry's only write path under concurrent
// ingest: it performs the optimistic-concurrency check and, on success,
// atomically advances current_version. confirm advances the watermark once
// the corresponding WAL append is durable; watermark never rewinds and
// never jumps past a still-unconfirmed version, so a confirmation that
// arrives out of order is held as a pending gap until the intervening ones
// land.
package registry
