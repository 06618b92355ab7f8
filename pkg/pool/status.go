package pool

import (
	"sort"

	"github.com/moltbot/pool/pkg/types"
)

// Status aggregates per-worker health into spec.md §6's status schema,
// synthesizing a placeholder health snapshot for any worker that has not
// yet reported one.
func (p *Pool) Status() types.PoolStatus {
	var status types.PoolStatus

	p.do(func() {
		status.RoutingTableSize = p.router.RoutingTableSize()

		for _, r := range p.workers {
			health := r.health
			if health.LastHeartbeat.IsZero() {
				health = types.HealthSnapshot{State: r.state}
			}

			status.Workers = append(status.Workers, types.WorkerStatus{
				WorkerID:     r.id,
				State:        r.state,
				Health:       health,
				Pending:      len(r.pending),
				RestartCount: r.restartCount,
			})

			status.TotalWorkers++
			if isDispatchable(r.state) {
				status.HealthyWorkers++
			}
			if r.state == types.WorkerBusy {
				status.BusyWorkers++
			}
			status.QueuedRequests += len(r.pending)
		}
	})

	sort.Slice(status.Workers, func(i, j int) bool {
		return status.Workers[i].WorkerID < status.Workers[j].WorkerID
	})
	return status
}

// ResolveWorker runs a routing decision for userID without dispatching a
// request, for callers that only need to know which slot currently owns
// a user (e.g. the gateway's getWorkerForUser).
func (p *Pool) ResolveWorker(userID string) (types.RouteResult, error) {
	var res types.RouteResult
	var err error
	p.do(func() { res, err = p.router.Route(userID) })
	return res, err
}
