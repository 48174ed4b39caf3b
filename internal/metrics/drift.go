package metrics

import (
	"sync"
	"time"
)

// DriftSnapshot summarizes wake-up lateness observed by a collector.
type DriftSnapshot struct {
	Ticks     int64         `json:"ticks"`
	MeanDrift time.Duration `json:"mean_drift"`
	MaxDrift  time.Duration `json:"max_drift"`
	LastDrift time.Duration `json:"last_drift"`
}

// DriftCollector accumulates scheduler drift samples. It is constructed
// explicitly and must be initialized before Observe records anything.
type DriftCollector struct {
	mu      sync.Mutex
	enabled bool
	ticks   int64
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

func NewDriftCollector() *DriftCollector {
	return &DriftCollector{}
}

// Init enables collection and clears previous samples.
func (c *DriftCollector) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	c.ticks, c.total, c.max, c.last = 0, 0, 0, 0
}

// Close stops collection. Snapshot keeps returning the final values.
func (c *DriftCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

// Observe records one wake-up's drift (actual minus expected fire time).
func (c *DriftCollector) Observe(drift time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.ticks++
	c.total += drift
	c.last = drift
	if abs(drift) > abs(c.max) {
		c.max = drift
	}
}

func (c *DriftCollector) Snapshot() DriftSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := DriftSnapshot{Ticks: c.ticks, MaxDrift: c.max, LastDrift: c.last}
	if c.ticks > 0 {
		snapshot.MeanDrift = c.total / time.Duration(c.ticks)
	}
	return snapshot
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
