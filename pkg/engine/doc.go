// Package engine wires every component (C1-C12) into one process-wide
// instance: the stream registry, WAL, columnar store, indexes, tenant
// accounting, ingest pipeline, query engine, snapshot store and
// scheduler, projection broker, and compactor are each opened once here
// and torn down together on Close. Everything else in this repository
// (cmd/eventcored, cmd/eventcorectl) talks to the system only through
// *Engine; nothing reaches into an inner package's state directly, the
// same "cyclic references broken by one-way channels, no ambient global
// state" shape described in the design notes.
package engine
