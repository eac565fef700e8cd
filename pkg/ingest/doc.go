// Package ingest implements the ingest pipeline (C6): the single entry
// point that takes a validated-or-trusted event request and drives it
// through admission, version reservation, WAL append, indexing, watermark
// confirmation, fan-out publication, and accounting (§4.6).
package ingest
