package metrics

import "time"

// StreamCount is one tenant's stream count and watermark lag, as reported
// by the engine on each collection tick.
type StreamCount struct {
	Tenant       string
	Streams      int
	WatermarkLag int
}

// PartitionStat is one WAL/columnar partition's observable state.
type PartitionStat struct {
	Partition    string
	WalSegments  int
	IndexEntries int
}

// TenantUsage is one tenant's quota consumption, as reported by C12.
type TenantUsage struct {
	Tenant   string
	Resource string
	Ratio    float64
}

// Source is implemented by the engine; the collector never imports the
// engine package directly so metrics stays a leaf dependency.
type Source interface {
	StreamCounts() []StreamCount
	PartitionStats() []PartitionStat
	TenantUsages() []TenantUsage
	CompactionBacklog() int
}

// Collector periodically recomputes gauges from a live Source.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector builds a collector over the given engine-like source.
func NewCollector(source Source) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every interval, starting immediately.
func (c *Collector) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, s := range c.source.StreamCounts() {
		StreamsTotal.WithLabelValues(s.Tenant).Set(float64(s.Streams))
		WatermarkLag.WithLabelValues(s.Tenant).Set(float64(s.WatermarkLag))
	}
	for _, p := range c.source.PartitionStats() {
		WalSegmentsTotal.WithLabelValues(p.Partition).Set(float64(p.WalSegments))
		IndexShardDepth.WithLabelValues("entity_index", p.Partition).Set(float64(p.IndexEntries))
	}
	for _, u := range c.source.TenantUsages() {
		TenantQuotaUsage.WithLabelValues(u.Tenant, u.Resource).Set(u.Ratio)
	}
	CompactionBacklog.Set(float64(c.source.CompactionBacklog()))
}
