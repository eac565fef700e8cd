package wal

import "errors"

// errTornFrame marks a frame that failed its length/checksum validation —
// either a genuinely corrupt record or (far more commonly) a partially
// written tail left by a crash mid-append. Recovery treats both the same
// way: truncate at the first occurrence.
var errTornFrame = errors.New("wal: torn frame")
