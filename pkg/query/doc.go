// Package query implements the query engine (C7): a predicate tree over
// event_type, entity_id, timestamp and payload.<path>, executed by
// selecting the narrowest index for candidate locations and streaming
// payloads from the columnar store or its live row buffers (§4.7).
package query
