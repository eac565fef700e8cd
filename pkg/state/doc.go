// Package state implements C8: reconstructing an entity's state as of a
// given timestamp by starting from the newest applicable C9 snapshot and
// folding the remaining tail of events through a registered projection.
package state
