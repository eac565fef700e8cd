package tenant

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/eventcore/pkg/eventerr"
)

var bucketTenants = []byte("tenants")

type tenantState struct {
	mu       sync.Mutex
	quotas   Quotas
	usage    Usage
	limiters *opLimiters
}

// Accounting is the per-tenant quota and rate-limit tracker (C12),
// checkpointed periodically to tenants.state the same way pkg/registry
// checkpoints registry.state. Unlike the registry, usage is not rebuilt
// from the WAL on recovery: losing the file resets every tenant's counters
// to zero.
type Accounting struct {
	defaultQuotas Quotas
	defaultTier   RateLimitTier

	mu      sync.RWMutex
	tenants map[string]*tenantState

	db       *bolt.DB
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Open opens (creating if necessary) the accounting checkpoint at
// dataDir/tenants.state, applying defaultQuotas/defaultTier to any tenant
// seen for the first time.
func Open(dataDir string, defaultQuotas Quotas, defaultTier RateLimitTier) (*Accounting, error) {
	path := filepath.Join(dataDir, "tenants.state")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("tenant: open checkpoint: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTenants)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tenant: init checkpoint: %w", err)
	}

	a := &Accounting{
		defaultQuotas: defaultQuotas,
		defaultTier:   defaultTier,
		tenants:       make(map[string]*tenantState),
		db:            db,
		stopCh:        make(chan struct{}),
	}

	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		return b.ForEach(func(k, v []byte) error {
			var usage Usage
			if err := json.Unmarshal(v, &usage); err != nil {
				return fmt.Errorf("tenant: decode checkpoint entry %q: %w", k, err)
			}
			a.tenants[string(k)] = &tenantState{
				quotas:   defaultQuotas,
				usage:    usage,
				limiters: newOpLimiters(defaultTier),
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return a, nil
}

func (a *Accounting) stateFor(tenantID string) *tenantState {
	a.mu.RLock()
	s, ok := a.tenants[tenantID]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.tenants[tenantID]; ok {
		return s
	}
	s = &tenantState{quotas: a.defaultQuotas, limiters: newOpLimiters(a.defaultTier)}
	a.tenants[tenantID] = s
	return s
}

// SetQuotas overrides the quotas for one tenant, e.g. from a control-plane
// admin call. Unset (zero) fields mean unlimited for that resource.
func (a *Accounting) SetQuotas(tenantID string, quotas Quotas) {
	s := a.stateFor(tenantID)
	s.mu.Lock()
	s.quotas = quotas
	s.mu.Unlock()
}

// CheckAndIncrement atomically checks resource against tenantID's quota and,
// if within bounds, increments it by delta (§4.12). A rejected call never
// mutates the counter.
func (a *Accounting) CheckAndIncrement(tenantID, resource string, delta int64, nowMicros int64) error {
	s := a.stateFor(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	resetIfDue(&s.usage, nowMicros)

	current, limit, ok := resourceCounter(s.quotas, &s.usage, resource)
	if !ok {
		return fmt.Errorf("tenant: unknown resource %q", resource)
	}
	if limit > 0 && *current+delta > limit {
		return &eventerr.QuotaExceeded{TenantID: tenantID, Resource: resource}
	}
	*current += delta
	return nil
}

// TryConsume checks op's token bucket for tenantID, consuming n tokens if
// available (§4.12 try_consume). It never blocks.
func (a *Accounting) TryConsume(tenantID, op string, n int, now time.Time) error {
	s := a.stateFor(tenantID)
	s.mu.Lock()
	limiters := s.limiters
	s.mu.Unlock()

	allowed, retryAfter := tryConsume(limiters, op, n, now)
	if !allowed {
		return &eventerr.RateLimited{TenantID: tenantID, Op: op, RetryAfterMs: retryAfter.Milliseconds()}
	}
	return nil
}

// Usage returns a copy of tenantID's current counters.
func (a *Accounting) Usage(tenantID string) Usage {
	s := a.stateFor(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// QuotasFor returns a copy of tenantID's configured quotas, for reporting
// usage as a ratio without exposing tenantState directly.
func (a *Accounting) QuotasFor(tenantID string) Quotas {
	s := a.stateFor(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotas
}

// StartCheckpointing runs Checkpoint on a ticker until Close is called.
func (a *Accounting) StartCheckpointing(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = a.Checkpoint()
			case <-a.stopCh:
				return
			}
		}
	}()
}

// Checkpoint persists every tenant's usage counters in one transaction.
// Quotas and rate limiter state are not persisted: quotas come from
// configuration/admin calls on restart, and limiter state resets to a full
// bucket, which is the conservative (never under-limits) choice.
func (a *Accounting) Checkpoint() error {
	a.mu.RLock()
	type entry struct {
		id    string
		usage Usage
	}
	entries := make([]entry, 0, len(a.tenants))
	for id, s := range a.tenants {
		s.mu.Lock()
		entries = append(entries, entry{id: id, usage: s.usage})
		s.mu.Unlock()
	}
	a.mu.RUnlock()

	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		for _, e := range entries {
			data, err := json.Marshal(e.usage)
			if err != nil {
				return fmt.Errorf("tenant: marshal checkpoint entry: %w", err)
			}
			if err := b.Put([]byte(e.id), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &eventerr.StorageUnavailable{Op: "tenant.checkpoint", Err: err}
	}
	return nil
}

// Close stops checkpointing, takes a final checkpoint, and releases the
// checkpoint file.
func (a *Accounting) Close() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if err := a.Checkpoint(); err != nil {
		a.db.Close()
		return err
	}
	return a.db.Close()
}

// TenantIDs lists every tenant currently tracked, used by metrics
// collection.
func (a *Accounting) TenantIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.tenants))
	for id := range a.tenants {
		ids = append(ids, id)
	}
	return ids
}
