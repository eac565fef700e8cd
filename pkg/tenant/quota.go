package tenant

// Quotas holds the per-resource limits for one tenant (§4.12, §3). A zero
// value for any field means unlimited.
type Quotas struct {
	EventsPerDay   int64
	BytesPerDay    int64
	QueriesPerHour int64
	MaxAPIKeys     int
	MaxProjections int
	MaxPipelines   int
}

// Usage holds the current counters for one tenant, reset on a daily/hourly
// cadence by resetIfDue.
type Usage struct {
	EventsToday     int64 `json:"events_today"`
	BytesToday      int64 `json:"bytes_today"`
	QueriesThisHour int64 `json:"queries_this_hour"`
	APIKeys         int   `json:"api_keys"`
	Projections     int   `json:"projections"`
	Pipelines       int   `json:"pipelines"`

	// dayBucket/hourBucket are the calendar day/hour index of the last
	// observed tick, used to make resets idempotent (P6): applying a
	// reset for a bucket already seen is a no-op.
	DayBucket  int64 `json:"day_bucket"`
	HourBucket int64 `json:"hour_bucket"`
}

const (
	microsPerHour = int64(3600) * 1_000_000
	microsPerDay  = 24 * microsPerHour
)

// resetIfDue zeroes the daily and/or hourly counters that have rolled over
// as of nowMicros. Calling it twice for the same bucket is a no-op (P6).
func resetIfDue(u *Usage, nowMicros int64) {
	day := nowMicros / microsPerDay
	if day != u.DayBucket {
		u.EventsToday = 0
		u.BytesToday = 0
		u.DayBucket = day
	}
	hour := nowMicros / microsPerHour
	if hour != u.HourBucket {
		u.QueriesThisHour = 0
		u.HourBucket = hour
	}
}

// resourceCounter returns the usage field a resource name maps to, and the
// configured limit for it, so CheckAndIncrement can stay resource-agnostic.
func resourceCounter(q Quotas, u *Usage, resource string) (current *int64, limit int64, ok bool) {
	switch resource {
	case "events":
		return &u.EventsToday, q.EventsPerDay, true
	case "bytes":
		return &u.BytesToday, q.BytesPerDay, true
	case "queries":
		return &u.QueriesThisHour, q.QueriesPerHour, true
	default:
		return nil, 0, false
	}
}
