package pool

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/moltbot/pool/pkg/config"
	"github.com/moltbot/pool/pkg/events"
	"github.com/moltbot/pool/pkg/ipc"
	"github.com/moltbot/pool/pkg/procmgr"
	"github.com/moltbot/pool/pkg/types"
	"github.com/stretchr/testify/require"
)

// newTestPool returns a Pool with its control goroutine running but no
// real workers spawned; tests inject workerRecords directly.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	cfg := config.Default()
	cfg.RestartWindow = time.Minute
	cfg.MaxRestartAttempts = 2
	p := New(cfg)
	go p.run()
	t.Cleanup(func() {
		select {
		case <-p.stopCh:
		default:
			close(p.stopCh)
		}
	})
	return p
}

// pairedConns wires a supervisor-side Conn to a worker-side Conn over two
// in-memory pipes, mirroring stdin/stdout without forking a process.
func pairedConns(t *testing.T) (supervisor, worker *ipc.Conn) {
	t.Helper()
	toWorker, fromSupervisor := io.Pipe()
	toSupervisor, fromWorker := io.Pipe()

	supervisor = ipc.NewConn(toSupervisor, fromSupervisor)
	worker = ipc.NewConn(toWorker, fromWorker)
	t.Cleanup(func() {
		fromSupervisor.Close()
		fromWorker.Close()
	})
	return supervisor, worker
}

func addWorker(t *testing.T, p *Pool, id string) (*workerRecord, *ipc.Conn) {
	t.Helper()
	supConn, workerConn := pairedConns(t)
	rec := &workerRecord{
		id:      id,
		conn:    supConn,
		state:   types.WorkerReady,
		pending: make(map[string]*pendingRequest),
	}
	p.do(func() {
		p.workers[id] = rec
		p.router.AddWorker(id)
	})
	return rec, workerConn
}

func TestSendRequest_DeliversResponseFromStickyWorker(t *testing.T) {
	p := newTestPool(t)
	_, workerConn := addWorker(t, p, "worker-0")

	go func() {
		env, err := workerConn.WaitForMessage(context.Background(), ipc.TypeRequest, 2*time.Second)
		require.NoError(t, err)
		var pl ipc.RequestPayload
		require.NoError(t, env.Decode(&pl))
		_ = workerConn.SendType(ipc.TypeResponse, ipc.ResponsePayload{Response: types.WorkerResponse{
			RequestID: pl.Request.RequestID,
			Success:   true,
		}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := p.SendRequest(ctx, types.WorkerRequest{RequestID: "r1", UserID: "alice"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "r1", resp.RequestID)
}

func TestSendRequest_ForceReassignsWhenStickyWorkerDown(t *testing.T) {
	p := newTestPool(t)
	addWorker(t, p, "worker-down")
	p.do(func() { p.workers["worker-down"].state = types.WorkerCrashed })
	_, healthyConn := addWorker(t, p, "worker-healthy")

	p.do(func() { _, _ = p.router.Route("bob") })
	var assigned string
	p.do(func() {
		rt, ok := p.router.Peek("bob")
		require.True(t, ok)
		assigned = rt.WorkerID
	})
	require.Equal(t, "worker-down", assigned)

	go func() {
		env, err := healthyConn.WaitForMessage(context.Background(), ipc.TypeRequest, 2*time.Second)
		require.NoError(t, err)
		var pl ipc.RequestPayload
		require.NoError(t, env.Decode(&pl))
		_ = healthyConn.SendType(ipc.TypeResponse, ipc.ResponsePayload{Response: types.WorkerResponse{
			RequestID: pl.Request.RequestID,
			Success:   true,
		}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := p.SendRequest(ctx, types.WorkerRequest{RequestID: "r2", UserID: "bob"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	p.do(func() {
		rt, ok := p.router.Peek("bob")
		require.True(t, ok)
		require.Equal(t, "worker-healthy", rt.WorkerID)
	})
}

func TestSendRequest_NoHealthyWorkersFails(t *testing.T) {
	p := newTestPool(t)
	addWorker(t, p, "worker-0")
	p.do(func() { p.workers["worker-0"].state = types.WorkerCrashed })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := p.SendRequest(ctx, types.WorkerRequest{RequestID: "r3", UserID: "carol"})
	require.ErrorIs(t, err, types.ErrNoHealthyWorkers)
}

func TestSendRequest_TimesOutWhenWorkerNeverResponds(t *testing.T) {
	p := newTestPool(t)
	addWorker(t, p, "worker-0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.SendRequest(ctx, types.WorkerRequest{RequestID: "r4", UserID: "dave", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	require.Equal(t, types.ErrRequestTimeout, err)
}

func TestHandleExit_RestartsWithinWindow(t *testing.T) {
	p := newTestPool(t)
	rec, _ := addWorker(t, p, "worker-0")

	p.do(func() { p.handleExit(rec, nil) })

	p.do(func() {
		require.Equal(t, types.WorkerStopped, rec.state)
		require.Equal(t, 1, rec.restartCount)
		require.Len(t, rec.restartTimes, 1)
	})
}

func TestHandleExit_LatchesCrashedAfterMaxAttempts(t *testing.T) {
	p := newTestPool(t)
	rec, _ := addWorker(t, p, "worker-0")

	// MaxRestartAttempts exits restart successfully; only the next one (the
	// (MaxRestartAttempts+1)'th) latches the slot Crashed.
	for i := 0; i < p.cfg.MaxRestartAttempts; i++ {
		p.do(func() { p.handleExit(rec, nil) })
		p.do(func() {
			require.Equal(t, types.WorkerStopped, rec.state)
		})
	}

	p.do(func() { p.handleExit(rec, nil) })

	p.do(func() {
		require.Equal(t, types.WorkerCrashed, rec.state)
	})
}

func TestHandleExit_FailsPendingRequests(t *testing.T) {
	p := newTestPool(t)
	rec, _ := addWorker(t, p, "worker-0")

	resultCh := make(chan types.WorkerResponse, 1)
	p.do(func() {
		rec.pending["r5"] = &pendingRequest{
			request:  types.WorkerRequest{RequestID: "r5"},
			timer:    time.NewTimer(time.Hour),
			resultCh: resultCh,
		}
	})

	p.do(func() { p.handleExit(rec, nil) })

	select {
	case resp := <-resultCh:
		require.False(t, resp.Success)
		require.Equal(t, "WORKER_EXITED", resp.ErrorCode)
	case <-time.After(time.Second):
		t.Fatal("pending request was never resolved")
	}
}

func TestHandleExit_SkipsRestartWhileStopping(t *testing.T) {
	p := newTestPool(t)
	rec, _ := addWorker(t, p, "worker-0")
	p.do(func() { p.stopping = true })

	p.do(func() { p.handleExit(rec, nil) })

	p.do(func() {
		require.Equal(t, types.WorkerStopped, rec.state)
		require.Zero(t, rec.restartCount)
	})
}

func TestOnHeartbeat_UpdatesHealthAndState(t *testing.T) {
	p := newTestPool(t)
	rec, _ := addWorker(t, p, "worker-0")

	p.do(func() {
		p.onHeartbeat(rec, ipc.HeartbeatPayload{
			State:             types.WorkerBusy,
			ActiveRequests:    2,
			MemoryBytes:       1024,
			RequestsProcessed: 7,
		})
	})

	p.do(func() {
		require.Equal(t, types.WorkerBusy, rec.state)
		require.Equal(t, uint64(1024), rec.health.MemoryBytes)
		require.Equal(t, uint64(7), rec.health.RequestsProcessed)
		require.False(t, rec.lastHeartbeat.IsZero())
	})
}

func TestStatus_AggregatesWorkerCounts(t *testing.T) {
	p := newTestPool(t)
	addWorker(t, p, "worker-0")
	rec1, _ := addWorker(t, p, "worker-1")
	p.do(func() { rec1.state = types.WorkerBusy })
	rec2, _ := addWorker(t, p, "worker-2")
	p.do(func() { rec2.state = types.WorkerCrashed })

	status := p.Status()
	require.Equal(t, 3, status.TotalWorkers)
	require.Equal(t, 2, status.HealthyWorkers)
	require.Equal(t, 1, status.BusyWorkers)
	require.Len(t, status.Workers, 3)
}

func TestStart_PersistsRoutingStateAcrossRestart(t *testing.T) {
	cfg := config.Default()
	cfg.WorkerCount = 0
	cfg.SandboxBaseDir = t.TempDir()
	cfg.RoutingStatePath = t.TempDir()

	p1 := New(cfg)
	require.NoError(t, p1.Start(context.Background()))
	p1.router.AddWorker("worker-0")
	route, err := p1.router.Route("alice")
	require.NoError(t, err)
	require.Equal(t, "worker-0", route.WorkerID)

	ctx1, cancel1 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel1()
	require.NoError(t, p1.Stop(ctx1))

	p2 := New(cfg)
	require.NoError(t, p2.Start(context.Background()))
	defer func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel2()
		_ = p2.Stop(ctx2)
	}()

	require.Equal(t, 1, p2.router.RoutingTableSize())
	require.Contains(t, p2.router.Workers(), "worker-0")

	route2, err := p2.router.Route("alice")
	require.NoError(t, err)
	require.Equal(t, "worker-0", route2.WorkerID)
	require.False(t, route2.IsNewAssignment)
}

func TestReconciler_MarksHungWorkerAndDegradesPool(t *testing.T) {
	p := newTestPool(t)
	rec, _ := addWorker(t, p, "worker-0")
	p.do(func() {
		rec.process = &procmgr.Process{}
		rec.lastHeartbeat = time.Now().Add(-time.Hour)
	})

	evCh, unsub := p.events.Subscribe()
	defer unsub()

	r := NewReconciler(p)
	r.checkHeartbeats()

	p.do(func() {
		require.Equal(t, types.WorkerHung, rec.state)
	})

	select {
	case ev := <-evCh:
		require.Equal(t, events.PoolDegraded, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a pool:degraded event")
	}

	p.do(func() {
		p.onHeartbeat(rec, ipc.HeartbeatPayload{State: types.WorkerReady})
	})
	p.do(func() {
		require.Equal(t, types.WorkerReady, rec.state)
	})

	select {
	case ev := <-evCh:
		require.Equal(t, events.PoolReady, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a pool:ready recovery event")
	}
}

func TestOnEvent_MemoryLimitDoesNotChangeState(t *testing.T) {
	p := newTestPool(t)
	rec, _ := addWorker(t, p, "worker-0")

	p.do(func() {
		p.onEvent(rec, types.Event{Reason: types.EventReasonMemoryLimit, WorkerID: rec.id, MemoryBytes: 999})
	})

	p.do(func() {
		require.Equal(t, types.WorkerReady, rec.state)
	})
}
