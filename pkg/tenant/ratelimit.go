package tenant

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimitTier configures a token bucket: Burst tokens capacity, refilling
// at RefillPerSec tokens/second (§4.12 "configurable tier (burst,
// refill_rate)").
type RateLimitTier struct {
	Burst        int
	RefillPerSec float64
}

func (t RateLimitTier) limiter() *rate.Limiter {
	burst := t.Burst
	if burst <= 0 {
		burst = 1
	}
	refill := t.RefillPerSec
	if refill <= 0 {
		refill = float64(burst)
	}
	return rate.NewLimiter(rate.Limit(refill), burst)
}

// opLimiters holds the two independent token buckets a tenant needs: one
// for ingest, one for query (§4.12 "per tenant for ingest and query").
type opLimiters struct {
	ingest *rate.Limiter
	query  *rate.Limiter
}

func newOpLimiters(tier RateLimitTier) *opLimiters {
	return &opLimiters{ingest: tier.limiter(), query: tier.limiter()}
}

func (l *opLimiters) forOp(op string) *rate.Limiter {
	if op == "query" {
		return l.query
	}
	return l.ingest
}

// tryConsume reports whether n tokens are available for op at "now",
// and if not, how long the caller should wait before retrying.
func tryConsume(limiters *opLimiters, op string, n int, now time.Time) (allowed bool, retryAfter time.Duration) {
	lim := limiters.forOp(op)
	res := lim.ReserveN(now, n)
	if !res.OK() {
		return false, 0
	}
	delay := res.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	res.Cancel()
	return false, delay
}
