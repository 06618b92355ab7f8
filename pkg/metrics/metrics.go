package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkersByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "moltpool",
		Name:      "workers_by_state",
		Help:      "Number of worker slots currently in each lifecycle state.",
	}, []string{"state"})

	RoutingTableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "moltpool",
		Name:      "routing_table_size",
		Help:      "Number of entries in the sticky assignment cache.",
	})

	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "moltpool",
		Name:      "pending_requests",
		Help:      "Number of requests dispatched but not yet resolved.",
	})

	RequestsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "moltpool",
		Name:      "requests_completed_total",
		Help:      "Total requests that resolved with success=true.",
	})

	RequestsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "moltpool",
		Name:      "requests_failed_total",
		Help:      "Total requests that resolved with success=false.",
	})

	RequestsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "moltpool",
		Name:      "requests_timed_out_total",
		Help:      "Total requests whose correlation was dropped on timeout.",
	})

	WorkerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moltpool",
		Name:      "worker_restarts_total",
		Help:      "Total restarts issued per worker slot.",
	}, []string{"worker_id"})

	WorkerCrashes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moltpool",
		Name:      "worker_crashes_total",
		Help:      "Total times a worker slot latched Crashed.",
	}, []string{"worker_id"})

	WorkerLimitEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moltpool",
		Name:      "worker_limit_events_total",
		Help:      "Total memory_limit/request_limit events reported by a worker.",
	}, []string{"worker_id", "reason"})
)

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
