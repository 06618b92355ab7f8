package pool

import (
	"context"
	"time"

	"github.com/moltbot/pool/pkg/events"
	"github.com/moltbot/pool/pkg/ipc"
	"github.com/moltbot/pool/pkg/log"
	"github.com/moltbot/pool/pkg/metrics"
	"github.com/moltbot/pool/pkg/types"
)

func isDispatchable(state types.WorkerState) bool {
	return state == types.WorkerReady || state == types.WorkerBusy
}

// findHealthyWorker returns the id of any dispatchable worker, or "" if
// none exists. Must be called from the control goroutine.
func (p *Pool) findHealthyWorker() string {
	for id, r := range p.workers {
		if isDispatchable(r.state) {
			return id
		}
	}
	return ""
}

// SendRequest routes req.UserID to a worker, falling back to any healthy
// worker (with a forced reassignment) if the sticky worker is down, and
// blocks until a Response arrives, the request times out, or ctx is done.
func (p *Pool) SendRequest(ctx context.Context, req types.WorkerRequest) (types.WorkerResponse, error) {
	var resultCh chan types.WorkerResponse
	var dispatchErr error

	p.do(func() {
		route, err := p.router.Route(req.UserID)
		if err != nil {
			dispatchErr = err
			return
		}

		rec, ok := p.workers[route.WorkerID]
		if !ok || !isDispatchable(rec.state) {
			alt := p.findHealthyWorker()
			if alt == "" {
				dispatchErr = types.ErrNoHealthyWorkers
				return
			}
			if err := p.router.ForceAssign(req.UserID, alt); err != nil {
				dispatchErr = err
				return
			}
			rec = p.workers[alt]
		}

		timeout := req.Timeout
		if timeout <= 0 {
			timeout = rec.config.RequestTimeout
		}
		if timeout <= 0 {
			timeout = 120 * time.Second
		}

		resultCh = make(chan types.WorkerResponse, 1)
		pr := &pendingRequest{request: req, resultCh: resultCh}
		pr.timer = time.AfterFunc(timeout, func() {
			p.post(func() { p.timeoutRequest(rec, req.RequestID) })
		})
		rec.pending[req.RequestID] = pr

		if err := rec.conn.SendType(ipc.TypeRequest, ipc.RequestPayload{Request: req}); err != nil {
			pr.timer.Stop()
			delete(rec.pending, req.RequestID)
			dispatchErr = err
		}
	})

	if dispatchErr != nil {
		return types.WorkerResponse{}, dispatchErr
	}

	select {
	case resp := <-resultCh:
		if resp.ErrorCode == "REQUEST_TIMEOUT" {
			return resp, types.ErrRequestTimeout
		}
		return resp, nil
	case <-ctx.Done():
		return types.WorkerResponse{}, ctx.Err()
	}
}

func (p *Pool) timeoutRequest(rec *workerRecord, requestID string) {
	pr, ok := rec.pending[requestID]
	if !ok {
		return
	}
	delete(rec.pending, requestID)

	metrics.RequestsTimedOut.Inc()
	p.events.Publish(events.Event{Type: events.RequestFailed, RequestID: requestID, Error: "timeout"})

	pr.resultCh <- types.WorkerResponse{
		RequestID: requestID,
		Success:   false,
		Error:     types.ErrRequestTimeout.Error(),
		ErrorCode: "REQUEST_TIMEOUT",
	}
}

func (p *Pool) onResponse(rec *workerRecord, resp types.WorkerResponse) {
	pr, ok := rec.pending[resp.RequestID]
	if !ok {
		// Unknown ids are logged and dropped: a late response after the
		// pending correlation already timed out.
		wlog := log.WithWorker(rec.id)
		wlog.Debug().Str("request_id", resp.RequestID).Msg("response for unknown or expired request")
		return
	}
	pr.timer.Stop()
	delete(rec.pending, resp.RequestID)

	if resp.Success {
		metrics.RequestsCompleted.Inc()
		p.events.Publish(events.Event{Type: events.RequestComplete, RequestID: resp.RequestID, DurationMs: resp.Duration.Milliseconds()})
	} else {
		metrics.RequestsFailed.Inc()
		p.events.Publish(events.Event{Type: events.RequestFailed, RequestID: resp.RequestID, Error: resp.Error})
	}
	pr.resultCh <- resp
}

func (p *Pool) onHealth(rec *workerRecord, health types.HealthSnapshot) {
	rec.health = health
	rec.state = health.State
	rec.lastHeartbeat = time.Now()
}

func (p *Pool) onHeartbeat(rec *workerRecord, pl ipc.HeartbeatPayload) {
	rec.health.State = pl.State
	rec.health.ActiveRequests = pl.ActiveRequests
	rec.health.MemoryBytes = pl.MemoryBytes
	rec.health.RequestsProcessed = pl.RequestsProcessed
	rec.health.LastHeartbeat = time.Now()
	rec.lastHeartbeat = time.Now()

	wasHung := rec.state == types.WorkerHung
	if isDispatchable(rec.state) || wasHung {
		rec.state = pl.State
	}
	if wasHung {
		p.checkPoolHealth()
	}
}

func (p *Pool) onEvent(rec *workerRecord, ev types.Event) {
	logger := log.WithWorker(rec.id)
	switch ev.Reason {
	case types.EventReasonMemoryLimit:
		metrics.WorkerLimitEvents.WithLabelValues(rec.id, string(ev.Reason)).Inc()
		logger.Warn().Uint64("memory_bytes", ev.MemoryBytes).Msg("worker exceeded its memory limit")
	case types.EventReasonRequestLimit:
		metrics.WorkerLimitEvents.WithLabelValues(rec.id, string(ev.Reason)).Inc()
		logger.Warn().Uint64("requests_processed", ev.RequestsProcessed).Msg("worker reached its request limit")
	case types.EventReasonStopped:
		rec.state = types.WorkerStopped
		p.events.Publish(events.Event{Type: events.WorkerStopped, WorkerID: rec.id})
	}
}

func (p *Pool) onErrorEnvelope(rec *workerRecord, pl ipc.ErrorPayload) {
	wlogger := log.WithWorker(rec.id)
	logger := wlogger.Error()
	logger = logger.Str("code", pl.Code).Bool("fatal", pl.Fatal)
	logger.Msg(pl.Message)

	if pl.Fatal {
		rec.state = types.WorkerCrashed
	}
}
