// Package index implements the in-memory indexes (C5): entity_index and
// type_index, each a sharded map with per-bucket locking so that readers
// and writers of one key's list contend only with operations on keys that
// hash to the same bucket.
// Appends within a single key are serialized by that bucket's lock, giving
// scanners a consistent prefix to iterate even while writers append.
//
// Cache wraps a bounded ristretto cache in front of a columnar Fetcher, so
// repeated point lookups of recently-flushed rows avoid a columnar file
// read.
package index
