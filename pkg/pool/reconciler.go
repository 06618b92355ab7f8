package pool

import (
	"time"

	"github.com/moltbot/pool/pkg/log"
	"github.com/moltbot/pool/pkg/sandbox"
	"github.com/moltbot/pool/pkg/types"
)

// staleHeartbeatFactor is how many heartbeat intervals may elapse before a
// live worker with no heartbeat is marked Hung. A Hung worker is not
// dispatchable but is left running: spec.md leaves hung-but-alive workers
// to the operator, not to an automatic kill. A later heartbeat recovers it.
const staleHeartbeatFactor = 3

// sandboxMaxAge bounds how long an idle peer sandbox (abandoned by a
// worker id no longer in the pool, e.g. after a WorkerCount shrink) is
// kept before Cleanup removes it.
const sandboxMaxAge = 24 * time.Hour

// Reconciler periodically audits the pool for hung workers and sweeps
// stale sandbox directories that Start no longer owns.
type Reconciler struct {
	pool   *Pool
	stopCh chan struct{}
}

// NewReconciler returns a Reconciler bound to p. It does nothing until
// Start is called.
func NewReconciler(p *Pool) *Reconciler {
	return &Reconciler{pool: p, stopCh: make(chan struct{})}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop ends the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	interval := r.pool.cfg.HeartbeatInterval * 2
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweepTicker := time.NewTicker(sandboxMaxAge / 4)
	defer sweepTicker.Stop()

	flushTicker := time.NewTicker(interval * 5)
	defer flushTicker.Stop()

	for {
		select {
		case <-ticker.C:
			r.checkHeartbeats()
		case <-sweepTicker.C:
			r.sweepSandboxes()
		case <-flushTicker.C:
			r.pool.router.Flush()
		case <-r.stopCh:
			return
		case <-r.pool.stopCh:
			return
		}
	}
}

// checkHeartbeats marks Hung any dispatchable worker whose process is alive
// but has not reported a heartbeat within staleHeartbeatFactor intervals,
// and emits pool:degraded/pool:ready as the pool's overall health changes.
func (r *Reconciler) checkHeartbeats() {
	type hung struct {
		id    string
		since time.Duration
	}
	var stale []hung

	r.pool.do(func() {
		threshold := r.pool.cfg.HeartbeatInterval * staleHeartbeatFactor
		if threshold <= 0 {
			return
		}
		now := time.Now()
		changed := false
		for _, rec := range r.pool.workers {
			if rec.process == nil || !isDispatchable(rec.state) {
				continue
			}
			if rec.lastHeartbeat.IsZero() {
				continue
			}
			if age := now.Sub(rec.lastHeartbeat); age > threshold {
				rec.state = types.WorkerHung
				stale = append(stale, hung{id: rec.id, since: age})
				changed = true
			}
		}
		if changed {
			r.pool.checkPoolHealth()
		}
	})

	for _, h := range stale {
		wlog := log.WithWorker(h.id)
		wlog.Warn().Dur("since_heartbeat", h.since).Msg("worker process alive but heartbeat is stale; marked hung")
	}
}

// sweepSandboxes removes peer sandbox directories whose lastAccessed is
// older than sandboxMaxAge. A sandbox belonging to a currently-registered
// worker is touched on every request dispatch and boot, and again just
// before each sweep, so it never ages past the threshold while its worker
// is registered.
func (r *Reconciler) sweepSandboxes() {
	var live []*sandbox.Sandbox
	r.pool.do(func() {
		for _, rec := range r.pool.workers {
			if rec.sandbox != nil {
				live = append(live, rec.sandbox)
			}
		}
	})
	for _, sb := range live {
		_ = sb.Touch()
	}

	removed, err := r.pool.sandboxMgr.Cleanup(sandboxMaxAge)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("sandbox cleanup failed")
		return
	}
	for _, id := range removed {
		log.Logger.Info().Str("worker_id", id).Msg("removed stale sandbox directory")
	}
}
