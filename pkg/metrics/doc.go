// Package metrics defines and registers the Prometheus metrics exposed by
// the event store core: per-tenant stream/watermark gauges, WAL segment and
// index depth gauges, compaction backlog and outcome counters, tenant quota
// and rate-limit counters, and per-operation histograms for ingest, query,
// fold, snapshot, and columnar flush.
//
// Metrics are registered at package init time via prometheus.MustRegister
// and exposed for scraping through Handler(). Collector recomputes the
// gauges on a ticker from a Source the engine implements, keeping this
// package a leaf dependency with no import of pkg/engine.
package metrics
