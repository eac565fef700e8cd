// Package compactor runs the background maintenance loop described in
// §4.11: merging small same-partition columnar files once their count
// crosses a threshold, and pruning WAL segments once their contents are
// confirmed durable in the columnar store. Compaction never changes event
// content, version, or ordering — it only rewrites how already-durable
// rows are laid out on disk.
package compactor
