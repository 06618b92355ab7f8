package pool

import (
	"context"

	"github.com/moltbot/pool/pkg/events"
	"github.com/moltbot/pool/pkg/log"
	"github.com/moltbot/pool/pkg/metrics"
	"github.com/moltbot/pool/pkg/types"
	"time"
)

// handleExit runs on the control goroutine when a worker's process exits.
// It fails every pending correlation for that slot, then applies the
// sliding-window restart policy.
func (p *Pool) handleExit(rec *workerRecord, _ error) {
	for id, pr := range rec.pending {
		pr.timer.Stop()
		pr.resultCh <- types.WorkerResponse{
			RequestID: id,
			Success:   false,
			Error:     types.ErrWorkerExited.Error(),
			ErrorCode: "WORKER_EXITED",
		}
		delete(rec.pending, id)
	}

	rec.process = nil
	rec.conn = nil
	rec.state = types.WorkerStopped

	if p.stopping {
		return
	}

	now := time.Now()
	rec.restartTimes = append(rec.restartTimes, now)
	cutoff := now.Add(-p.cfg.RestartWindow)
	trimmed := rec.restartTimes[:0]
	for _, t := range rec.restartTimes {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	rec.restartTimes = trimmed

	if len(rec.restartTimes) > p.cfg.MaxRestartAttempts {
		rec.state = types.WorkerCrashed
		metrics.WorkerCrashes.WithLabelValues(rec.id).Inc()
		p.events.Publish(events.Event{Type: events.WorkerCrash, WorkerID: rec.id})
		p.checkPoolHealth()
		return
	}

	rec.restartCount++
	id := rec.id
	attempt := rec.restartCount
	delay := p.cfg.RestartDelay

	time.AfterFunc(delay, func() {
		p.post(func() {
			if p.stopping {
				return
			}
			r, ok := p.workers[id]
			if !ok {
				return
			}
			p.events.Publish(events.Event{Type: events.WorkerRestart, WorkerID: id, Attempt: attempt})
			metrics.WorkerRestarts.WithLabelValues(id).Inc()

			go func() {
				if err := p.spawnProcess(context.Background(), r); err != nil {
					wlog := log.WithWorker(id)
					wlog.Error().Err(err).Msg("failed to respawn worker")
				}
			}()
		})
	})
}

// checkPoolHealth emits pool:degraded when fewer than every worker is
// dispatchable, and pool:ready when a previously degraded pool recovers to
// full health. Must be called from the control goroutine.
func (p *Pool) checkPoolHealth() {
	total := len(p.workers)
	if total == 0 {
		return
	}
	healthy := 0
	for _, r := range p.workers {
		if isDispatchable(r.state) {
			healthy++
		}
	}
	if healthy < total {
		p.degraded = true
		p.events.Publish(events.Event{Type: events.PoolDegraded, Healthy: healthy, Total: total})
		return
	}
	if p.degraded {
		p.degraded = false
		p.events.Publish(events.Event{Type: events.PoolReady})
	}
}
