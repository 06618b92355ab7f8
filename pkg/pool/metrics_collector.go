package pool

import (
	"time"

	"github.com/moltbot/pool/pkg/metrics"
	"github.com/moltbot/pool/pkg/types"
)

// metricsSampleInterval governs how often MetricsCollector snapshots
// Status() into the prometheus gauges.
const metricsSampleInterval = 5 * time.Second

// MetricsCollector periodically snapshots a Pool's Status() into the
// gauges exported under pkg/metrics.
type MetricsCollector struct {
	pool   *Pool
	stopCh chan struct{}
}

// NewMetricsCollector returns a MetricsCollector bound to p.
func NewMetricsCollector(p *Pool) *MetricsCollector {
	return &MetricsCollector{pool: p, stopCh: make(chan struct{})}
}

// Start begins the sampling loop.
func (c *MetricsCollector) Start() {
	go c.run()
}

// Stop ends the sampling loop.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) run() {
	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.stopCh:
			return
		case <-c.pool.stopCh:
			return
		}
	}
}

func (c *MetricsCollector) sample() {
	status := c.pool.Status()

	counts := map[types.WorkerState]float64{}
	for _, w := range status.Workers {
		counts[w.State]++
	}
	for _, state := range []types.WorkerState{
		types.WorkerStarting, types.WorkerReady, types.WorkerBusy,
		types.WorkerStopping, types.WorkerStopped, types.WorkerCrashed,
	} {
		metrics.WorkersByState.WithLabelValues(string(state)).Set(counts[state])
	}

	metrics.RoutingTableSize.Set(float64(status.RoutingTableSize))
	metrics.PendingRequests.Set(float64(status.QueuedRequests))
}
