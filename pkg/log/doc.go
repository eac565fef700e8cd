/*
Package log provides structured logging for eventcore using zerolog.

The package wraps zerolog to give every component (wal, index, ingest,
compactor, tenant accounting) a child logger carrying its own context
fields, so a single log line can be traced back to the stream, tenant, or
partition it came from without string parsing.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	walLog := log.WithComponent("wal")
	walLog.Info().Str("segment", "segment-000042.log").Msg("segment rotated")

	streamLog := log.WithStream("tenant-a", "order-1")
	streamLog.Warn().Int("expected", 5).Int("actual", 7).Msg("version conflict")

# Design

A single package-level Logger is initialized once at process start via
Init. Every other component holds a child logger built with WithComponent,
WithTenant, or WithStream rather than writing to the global Logger
directly — this keeps component and tenant context attached automatically
instead of being repeated at every call site.
*/
package log
