/*
Package wal implements the event store's write-ahead log (C2): a durable,
segmented, append-only prefix log of every accepted event, partitioned the
same way streams are partitioned so each partition has exactly one writer.

# Architecture

	┌──────────────────────── WAL (per partition) ───────────────────────┐
	│                                                                      │
	│   Append(frame) ──▶ encode ──▶ active segment ──▶ fsync policy      │
	│                                     │                                │
	│                          size ≥ SegmentMaxBytes?                     │
	│                                     │ yes                           │
	│                                     ▼                                │
	│                        rotate: close, open segment-N+1.log          │
	│                                                                      │
	│   IterFrom(lsn) ──▶ scan segments in order ──▶ decode frames        │
	│                                                                      │
	│   recover() ──▶ scan all segments ──▶ stop at first torn frame ──▶  │
	│                 truncate tail ──▶ resume after last intact LSN      │
	└──────────────────────────────────────────────────────────────────────┘

Each record is a length-prefixed frame carrying a CRC32C (Castagnoli)
checksum over the tenant, stream, version, and JSON-encoded event (§4.2).
Segments rotate at a configured byte size. The fsync policy is one of
sync (every record), batch (group commit by count or time), or async
(best-effort). Recovery scans segments in order and truncates a torn tail
rather than failing startup.
*/
package wal
