// Package tenant implements per-tenant quota accounting and rate limiting
// (C12): daily/hourly usage counters checked and incremented atomically
// (the ingest pipeline checks them; the query path does not), and a
// token-bucket limiter per tenant per operation. Counters reset lazily:
// CheckAndIncrement zeroes a counter when it first sees a new day or hour,
// and no background tick resets them. Resets are idempotent.
package tenant
