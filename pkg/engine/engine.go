package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cuemby/eventcore/pkg/columnar"
	"github.com/cuemby/eventcore/pkg/compactor"
	"github.com/cuemby/eventcore/pkg/config"
	"github.com/cuemby/eventcore/pkg/event"
	"github.com/cuemby/eventcore/pkg/index"
	"github.com/cuemby/eventcore/pkg/ingest"
	ecolog "github.com/cuemby/eventcore/pkg/log"
	"github.com/cuemby/eventcore/pkg/metrics"
	"github.com/cuemby/eventcore/pkg/projection"
	"github.com/cuemby/eventcore/pkg/query"
	"github.com/cuemby/eventcore/pkg/registry"
	"github.com/cuemby/eventcore/pkg/snapshot"
	"github.com/cuemby/eventcore/pkg/state"
	"github.com/cuemby/eventcore/pkg/tenant"
	"github.com/cuemby/eventcore/pkg/wal"

	"github.com/rs/zerolog"
)

// IdentityProjection is the name state.Reconstructor treats as "no
// registered projection", used as the default for snapshot scheduling and
// the cmd/eventcorectl "snapshot" subcommand when the caller doesn't care
// about a specific named projection.
const IdentityProjection = ""

// Options carries the knobs that live above spec §6's environment
// variables: scheduling cadences and sizes that don't need their own env
// var because an operator tunes them through Config literals or the
// eventcorectl CLI, not through DATA_DIR-style process environment.
type Options struct {
	DefaultQuotas         tenant.Quotas
	DefaultRateLimitTier  tenant.RateLimitTier
	CacheMaxCostBytes     int64
	BrokerIntakeBuffer    int
	RegistryCheckpointInterval time.Duration
	AccountingCheckpointInterval time.Duration
	CompactionInterval    time.Duration
	CompactionMinFiles    int
	SnapshotTickInterval  time.Duration
	MetricsCollectInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.CacheMaxCostBytes <= 0 {
		o.CacheMaxCostBytes = 64 << 20
	}
	if o.BrokerIntakeBuffer <= 0 {
		o.BrokerIntakeBuffer = 4096
	}
	if o.RegistryCheckpointInterval <= 0 {
		o.RegistryCheckpointInterval = 30 * time.Second
	}
	if o.AccountingCheckpointInterval <= 0 {
		o.AccountingCheckpointInterval = 30 * time.Second
	}
	if o.CompactionInterval <= 0 {
		o.CompactionInterval = time.Minute
	}
	if o.CompactionMinFiles <= 0 {
		o.CompactionMinFiles = 8
	}
	if o.SnapshotTickInterval <= 0 {
		o.SnapshotTickInterval = time.Minute
	}
	if o.MetricsCollectInterval <= 0 {
		o.MetricsCollectInterval = 15 * time.Second
	}
	return o
}

// Engine is the single process-wide instance of the event store: every
// other package in this repository is a leaf this struct wires together.
type Engine struct {
	cfg  *config.Config
	opts Options

	wal        *wal.WAL
	registry   *registry.Registry
	indexes    *index.Indexes
	store      *columnar.Store
	cache      *index.Cache
	accounting *tenant.Accounting
	snapshots  *snapshot.Store

	pipeline      *ingest.Pipeline
	query         *query.Engine
	reconstructor *state.Reconstructor
	broker        *projection.Broker
	projections   *projection.Registry
	snapScheduler *snapshot.Scheduler
	compactor     *compactor.Compactor
	metricsCollector *metrics.Collector

	logger zerolog.Logger
}

// Open wires every component into a single Engine: it recovers the WAL,
// rebuilds the columnar catalog, loads checkpointed registry and
// accounting state, and then replays the columnar catalog and any WAL tail
// beyond it to rebuild C4's stream versions and C5's indexes (§4.2),
// before returning an Engine safe to serve queries against — all ahead of
// Start(), which only begins background loops.
func Open(cfg *config.Config, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	logger := ecolog.WithComponent("engine")

	w, err := wal.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}
	metrics.RegisterComponent("wal", true, "segments recovered, torn tail truncated")

	reg, err := registry.Open(cfg.DataDir, cfg.PartitionCount)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("engine: open registry: %w", err)
	}
	metrics.RegisterComponent("registry", true, "checkpoint loaded")

	store, err := columnar.Open(cfg.DataDir, columnar.Config{
		FlushRows:  cfg.ColumnFlushRows,
		FlushBytes: cfg.ColumnFlushBytes,
		FlushAgeMs: cfg.ColumnFlushAgeMs,
	})
	if err != nil {
		reg.Close()
		w.Close()
		return nil, fmt.Errorf("engine: open columnar store: %w", err)
	}
	metrics.RegisterComponent("columnar", true, "catalog rebuilt")

	cache, err := index.NewCache(store, opts.CacheMaxCostBytes)
	if err != nil {
		reg.Close()
		w.Close()
		return nil, fmt.Errorf("engine: open index cache: %w", err)
	}

	accounting, err := tenant.Open(cfg.DataDir, opts.DefaultQuotas, opts.DefaultRateLimitTier)
	if err != nil {
		cache.Close()
		reg.Close()
		w.Close()
		return nil, fmt.Errorf("engine: open tenant accounting: %w", err)
	}
	metrics.RegisterComponent("accounting", true, "checkpoint loaded")

	snapshots, err := snapshot.Open(cfg.DataDir)
	if err != nil {
		accounting.Close()
		cache.Close()
		reg.Close()
		w.Close()
		return nil, fmt.Errorf("engine: open snapshot store: %w", err)
	}
	metrics.RegisterComponent("snapshots", true, "store opened")

	indexes := index.New()
	if err := recover(w, reg, store, indexes, cfg.PartitionCount, logger); err != nil {
		snapshots.Close()
		accounting.Close()
		cache.Close()
		reg.Close()
		w.Close()
		return nil, fmt.Errorf("engine: recover: %w", err)
	}
	metrics.RegisterComponent("indexes", true, "rebuilt from columnar catalog and wal tail")

	broker := projection.NewBroker(opts.BrokerIntakeBuffer)

	pipeline := ingest.New(ingest.Config{MaxPayloadBytes: cfg.MaxPayloadBytes}, accounting, reg, w, indexes, store, broker)
	queryEngine := query.New(indexes, store, cache)
	reconstructor := state.New(queryEngine, snapshots)

	snapScheduler := snapshot.NewScheduler(snapshots, indexes, reconstructor, IdentityProjection,
		opts.SnapshotTickInterval, time.Duration(cfg.SnapshotIntervalMs)*time.Millisecond, int64(cfg.SnapshotThresholdEvents))

	comp := compactor.New(compactor.Config{MinFiles: opts.CompactionMinFiles}, store, w)

	e := &Engine{
		cfg:           cfg,
		opts:          opts,
		wal:           w,
		registry:      reg,
		indexes:       indexes,
		store:         store,
		cache:         cache,
		accounting:    accounting,
		snapshots:     snapshots,
		pipeline:      pipeline,
		query:         queryEngine,
		reconstructor: reconstructor,
		broker:        broker,
		projections:   projection.NewRegistry(),
		snapScheduler: snapScheduler,
		compactor:     comp,
		logger:        logger,
	}
	e.metricsCollector = metrics.NewCollector(e)
	return e, nil
}

// Start begins every background loop: registry/accounting checkpointing,
// the projection broker dispatch loop, the snapshot scheduler, the
// compactor, and metrics collection. Open alone leaves the engine usable
// for synchronous Ingest/Query calls without any of this running, which
// tests rely on to avoid goroutine leaks in short-lived fixtures.
func (e *Engine) Start() {
	e.registry.StartCheckpointing(e.opts.RegistryCheckpointInterval)
	e.accounting.StartCheckpointing(e.opts.AccountingCheckpointInterval)
	e.broker.Start()
	metrics.RegisterComponent("broker", true, "dispatch loop running")
	e.snapScheduler.Start()
	metrics.RegisterComponent("snapshot_scheduler", true, "running")
	e.compactor.Start(e.opts.CompactionInterval)
	metrics.RegisterComponent("compactor", true, "running")
	e.metricsCollector.Start(e.opts.MetricsCollectInterval)
	e.logger.Info().Msg("engine started")
}

// Close stops every background loop and releases every open file handle,
// in reverse dependency order.
func (e *Engine) Close() error {
	e.metricsCollector.Stop()
	e.compactor.Stop()
	e.snapScheduler.Stop()
	e.broker.Stop()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(e.snapshots.Close())
	record(e.accounting.Close())
	e.cache.Close()
	record(e.registry.Close())
	record(e.wal.Close())
	return firstErr
}

// Ingest drives one event through the ingest pipeline (C6).
func (e *Engine) Ingest(req event.Request, trusted bool) (ingest.Receipt, error) {
	return e.pipeline.Ingest(req, trusted)
}

// IngestBatch drives a batch of requests through the ingest pipeline.
func (e *Engine) IngestBatch(ctx context.Context, reqs []event.Request, trusted bool) []ingest.Result {
	return e.pipeline.IngestBatch(ctx, reqs, trusted)
}

// QueryByEntity answers C7's entity-scoped query.
func (e *Engine) QueryByEntity(ctx context.Context, tenantID, entityID string, f *query.Filter) ([]*event.Event, error) {
	return e.query.QueryByEntity(ctx, tenantID, entityID, f)
}

// QueryByType answers C7's type-scoped query.
func (e *Engine) QueryByType(ctx context.Context, tenantID, eventType string, f *query.Filter) ([]*event.Event, error) {
	return e.query.QueryByType(ctx, tenantID, eventType, f)
}

// Query answers C7's general filtered, time-bounded, cursor-resumable
// query.
func (e *Engine) Query(ctx context.Context, tenantID string, fromMicros, toMicros int64, f *query.Filter, cursor *query.Cursor, limit int) ([]*event.Event, *query.Cursor, error) {
	return e.query.Query(ctx, tenantID, fromMicros, toMicros, f, cursor, limit)
}

// Stats answers C7's stats() operation.
func (e *Engine) Stats(tenantID string) query.Stats {
	return e.query.Stats(tenantID)
}

// StateAsOf answers C8's state_as_of query, folding through the named
// projection (IdentityProjection for the latest-payload fallback).
func (e *Engine) StateAsOf(ctx context.Context, tenantID, entityID, projectionName string, asOfMicros int64) (state.Result, error) {
	payload, version, err := e.reconstructor.StateAsOf(ctx, tenantID, entityID, projectionName, asOfMicros)
	if err != nil {
		return state.Result{}, err
	}
	return state.Result{State: payload, Version: version}, nil
}

// RegisterProjection installs p for state reconstruction (C8). It does not
// add p to the C10 projection registry or subscribe anything to the broker.
func (e *Engine) RegisterProjection(p state.Projection) {
	e.reconstructor.Register(p)
}

// Subscribe registers a new C10 subscriber against the live event stream.
func (e *Engine) Subscribe(policy projection.BackpressurePolicy, bufferSize int, blockTimeout time.Duration) *projection.Subscription {
	return e.broker.Subscribe(policy, bufferSize, blockTimeout)
}

// Unsubscribe removes a subscriber registered with Subscribe.
func (e *Engine) Unsubscribe(sub *projection.Subscription) {
	e.broker.Unsubscribe(sub)
}

// SnapshotNow computes and persists a fresh snapshot generation for
// (tenantID, entityID, projectionName) immediately, independent of the
// scheduler's tick/threshold cadence — the backing operation for
// POST /api/v1/snapshots/{entity} and "eventcorectl snapshot".
func (e *Engine) SnapshotNow(tenantID, entityID, projectionName string) (snapshot.Snapshot, error) {
	snap, err := e.reconstructor.Snapshot(tenantID, entityID, projectionName)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if err := e.snapshots.Save(snap); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

// InspectStream returns a stream's registry metadata, for
// "eventcorectl inspect-stream".
func (e *Engine) InspectStream(streamID string) (registry.StreamMeta, bool) {
	return e.registry.Get(streamID)
}

// Compact runs one compaction cycle synchronously, for
// "eventcorectl compact".
func (e *Engine) Compact() error {
	return e.compactor.Run()
}

// ReplayWAL streams every record from the given partition starting at lsn,
// for "eventcorectl replay-wal". It never mutates engine state; it exists
// for operator inspection of raw WAL contents.
func (e *Engine) ReplayWAL(ctx context.Context, partitionID int, fromLSN int64, yield func(lsn int64, f wal.Frame) bool) error {
	it, err := e.wal.Partition(partitionID).IterFrom(fromLSN)
	if err != nil {
		return fmt.Errorf("engine: replay wal: %w", err)
	}
	defer it.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("engine: replay wal: %w", err)
		}
		if !yield(rec.LSN, rec.Frame) {
			return nil
		}
	}
}

// PurgeTenant is the administrative tenant-purge batch operation (§1,
// §4.12, §9 open question (c)): it is not a data-plane call and is not
// rate-limited or quota-checked. Order matters for crash-safety: indexes
// and the columnar store are purged before the registry and accounting
// state, so a crash mid-purge leaves, at worst, registrations and quota
// counters for a tenant with no queryable events left — never queryable
// events with no registration.
func (e *Engine) PurgeTenant(tenantID string) error {
	e.indexes.PurgeTenant(tenantID)
	if err := e.store.PurgeTenant(tenantID); err != nil {
		return fmt.Errorf("engine: purge tenant columnar data: %w", err)
	}
	if err := e.snapshots.PurgeTenant(tenantID); err != nil {
		return fmt.Errorf("engine: purge tenant snapshots: %w", err)
	}
	if err := e.registry.PurgeTenant(tenantID); err != nil {
		return fmt.Errorf("engine: purge tenant registry: %w", err)
	}
	if err := e.accounting.PurgeTenant(tenantID); err != nil {
		return fmt.Errorf("engine: purge tenant accounting: %w", err)
	}
	e.logger.Info().Str("tenant_id", tenantID).Msg("tenant purged")
	return nil
}

// StreamCounts implements metrics.Source.
func (e *Engine) StreamCounts() []metrics.StreamCount {
	var out []metrics.StreamCount
	for _, id := range e.registry.TenantIDs() {
		out = append(out, metrics.StreamCount{
			Tenant:       id,
			Streams:      e.registry.StreamCount(id),
			WatermarkLag: e.registry.WatermarkLag(id),
		})
	}
	return out
}

// PartitionStats implements metrics.Source.
func (e *Engine) PartitionStats() []metrics.PartitionStat {
	perPartition := make([]int, e.cfg.PartitionCount)
	for _, k := range e.indexes.EntityKeys() {
		for _, entry := range e.indexes.ByEntity(k) {
			if entry.Partition >= 0 && entry.Partition < len(perPartition) {
				perPartition[entry.Partition]++
			}
		}
	}
	out := make([]metrics.PartitionStat, 0, e.cfg.PartitionCount)
	for i := 0; i < e.cfg.PartitionCount; i++ {
		out = append(out, metrics.PartitionStat{
			Partition:    strconv.Itoa(i),
			WalSegments:  e.wal.Partition(i).SegmentCount(),
			IndexEntries: perPartition[i],
		})
	}
	return out
}

// TenantUsages implements metrics.Source.
func (e *Engine) TenantUsages() []metrics.TenantUsage {
	var out []metrics.TenantUsage
	for _, id := range e.accounting.TenantIDs() {
		usage := e.accounting.Usage(id)
		quotas := e.accounting.QuotasFor(id)
		out = append(out,
			ratioUsage(id, "events", usage.EventsToday, quotas.EventsPerDay),
			ratioUsage(id, "bytes", usage.BytesToday, quotas.BytesPerDay),
			ratioUsage(id, "queries", usage.QueriesThisHour, quotas.QueriesPerHour),
		)
	}
	return out
}

func ratioUsage(tenantID, resource string, used, limit int64) metrics.TenantUsage {
	if limit <= 0 {
		return metrics.TenantUsage{Tenant: tenantID, Resource: resource, Ratio: 0}
	}
	return metrics.TenantUsage{Tenant: tenantID, Resource: resource, Ratio: float64(used) / float64(limit)}
}

// CompactionBacklog implements metrics.Source.
func (e *Engine) CompactionBacklog() int {
	return e.compactor.Backlog()
}
