// Package metrics declares the pool's Prometheus collectors: gauges for
// worker-state distribution and routing-table size, and counters for
// completed/failed/timed-out requests and restarts/crashes. Handler()
// exposes them for /metrics.
package metrics
