package metrics

import "time"

// Source is implemented by the daemon's pipeline components so the
// collector can pull gauge values without importing them directly
// (pkg/metrics sits below pkg/indexer, pkg/coalesce, and pkg/registry in
// the dependency graph).
type Source interface {
	RootStats() map[string]RootStat
	CoalesceSize() int
	DLQDepth() int
	RegistryDaemonCount() int
}

// RootStat is a per-root snapshot used to populate FilesTotal/SymbolsTotal.
type RootStat struct {
	FileCount   int64
	SymbolCount int64
}

// Collector periodically pulls gauge values from a Source and writes
// them into the prometheus metrics declared in metrics.go.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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
	stats := c.source.RootStats()
	RootsTotal.Set(float64(len(stats)))
	for rootID, stat := range stats {
		FilesTotal.WithLabelValues(rootID).Set(float64(stat.FileCount))
		SymbolsTotal.WithLabelValues(rootID).Set(float64(stat.SymbolCount))
	}

	CoalesceMapSize.Set(float64(c.source.CoalesceSize()))
	DLQDepth.Set(float64(c.source.DLQDepth()))
	RegistryDaemonsTotal.Set(float64(c.source.RegistryDaemonCount()))
}
