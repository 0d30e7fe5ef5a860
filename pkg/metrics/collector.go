package metrics

import "time"

// Source is whatever the collector polls for gauge values. *system.System
// satisfies it without pkg/metrics needing to import pkg/system (which
// would cycle back here through pkg/orchestrator).
type Source interface {
	CartridgesLoaded() int
	CartridgeFactCounts() map[string]int
	GrainCount() int
	PhantomStatusCounts() map[string]int
	ActiveResonancePatterns() int
	HeartbeatTurn() uint64
}

// Collector periodically snapshots gauge-style state (cartridges, facts,
// grains, phantoms, resonance, heartbeat) into the package's Prometheus
// gauges. Counters and histograms are recorded inline by their owning
// packages instead; this only covers metrics best read as "current state"
// rather than "event happened".
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector wires a Collector to a Source. It does nothing until Start.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting on a 15 second interval, collecting once
// immediately first.
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

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectCartridgeMetrics()
	c.collectGrainMetrics()
	c.collectPhantomMetrics()
	c.collectResonanceMetrics()
	c.collectHeartbeatMetrics()
}

func (c *Collector) collectCartridgeMetrics() {
	CartridgesLoaded.Set(float64(c.source.CartridgesLoaded()))
	for name, count := range c.source.CartridgeFactCounts() {
		FactsTotal.WithLabelValues(name).Set(float64(count))
	}
}

func (c *Collector) collectGrainMetrics() {
	GrainsLoaded.Set(float64(c.source.GrainCount()))
}

func (c *Collector) collectPhantomMetrics() {
	for status, count := range c.source.PhantomStatusCounts() {
		PhantomsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectResonanceMetrics() {
	ResonancePatternsActive.Set(float64(c.source.ActiveResonancePatterns()))
}

func (c *Collector) collectHeartbeatMetrics() {
	HeartbeatTurn.Set(float64(c.source.HeartbeatTurn()))
}
