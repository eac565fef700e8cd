package snapshot

import (
	"sync"
	"time"

	"github.com/cuemby/eventcore/pkg/index"
	ecolog "github.com/cuemby/eventcore/pkg/log"
	"github.com/rs/zerolog"
)

// Computer folds an entity's current state so the scheduler can persist it
// as a new snapshot generation. Implemented by pkg/state, declared here to
// avoid an import cycle (state needs Store.Latest to bound its replay).
type Computer interface {
	Snapshot(tenantID, entityID, projection string) (Snapshot, error)
}

// Scheduler triggers new snapshot generations on a fixed tick and,
// independently, whenever an entity crosses the configured event-count
// threshold since its last generation (§4.9: "threshold: default 1000
// events or 30 minutes, whichever first").
type Scheduler struct {
	store      *Store
	indexes    *index.Indexes
	computer   Computer
	projection string

	tickInterval time.Duration
	ageThreshold time.Duration
	countThreshold int64

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewScheduler builds a Scheduler over store and indexes for the named
// projection. tickInterval governs how often the age/count check runs,
// not the snapshot cadence itself.
func NewScheduler(store *Store, indexes *index.Indexes, computer Computer, projection string, tickInterval, ageThreshold time.Duration, countThreshold int64) *Scheduler {
	return &Scheduler{
		store:          store,
		indexes:        indexes,
		computer:       computer,
		projection:     projection,
		tickInterval:   tickInterval,
		ageThreshold:   ageThreshold,
		countThreshold: countThreshold,
		logger:         ecolog.WithComponent("snapshot"),
		stopCh:         make(chan struct{}),
	}
}

// Start begins the background tick loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop ends the loop. Stop is not safe to call twice.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

// tick evaluates every known entity against the threshold and triggers a
// fresh snapshot for any that qualify. A failure for one entity is logged
// and does not stop the cycle.
func (s *Scheduler) tick() {
	now := time.Now()
	for _, entityID := range s.indexes.EntityKeys() {
		entries := s.indexes.ByEntity(entityID)
		if len(entries) == 0 {
			continue
		}
		tenantID := entries[0].TenantID
		latestVersion := int64(len(entries))

		due, err := s.due(tenantID, entityID, latestVersion, now)
		if err != nil {
			s.logger.Error().Err(err).Str("entity_id", entityID).Msg("snapshot due check failed")
			continue
		}
		if !due {
			continue
		}

		snap, err := s.computer.Snapshot(tenantID, entityID, s.projection)
		if err != nil {
			s.logger.Error().Err(err).Str("entity_id", entityID).Msg("snapshot compute failed")
			continue
		}
		if err := s.store.Save(snap); err != nil {
			s.logger.Error().Err(err).Str("entity_id", entityID).Msg("snapshot save failed")
		}
	}
}

func (s *Scheduler) due(tenantID, entityID string, latestVersion int64, now time.Time) (bool, error) {
	last, ok, err := s.store.Latest(tenantID, entityID, s.projection, now.UnixMicro())
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	if latestVersion-last.VersionCovered >= s.countThreshold {
		return true, nil
	}
	age := now.Sub(time.UnixMicro(last.TimestampMicros).UTC())
	return age >= s.ageThreshold, nil
}
