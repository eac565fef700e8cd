// Package projection implements C10: named, versioned projections and
// pipelines subscribing to the live event fan-out, plus the backpressure
// policies and pipeline operators (filter, map, enrich, window, batch)
// that sit between the broker and a subscriber.
package projection
