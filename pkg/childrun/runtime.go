package childrun

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moltbot/pool/pkg/ipc"
	"github.com/moltbot/pool/pkg/log"
	"github.com/moltbot/pool/pkg/sandbox"
	"github.com/moltbot/pool/pkg/types"
)

// Runtime is the single in-memory state record a worker process holds:
// its configuration, sandbox handle, lifecycle state, counters, and the
// set of requests currently in flight.
type Runtime struct {
	conn *ipc.Conn

	mu                sync.Mutex
	config            types.WorkerConfig
	sandbox           *sandbox.Sandbox
	state             types.WorkerState
	activeRequests    map[string]time.Time
	requestsProcessed uint64
	errorCount        uint64
	startedAt         time.Time

	heartbeatStop chan struct{}
}

// New returns a Runtime that speaks the protocol over conn. It does
// nothing until Run is called.
func New(conn *ipc.Conn) *Runtime {
	return &Runtime{
		conn:           conn,
		state:          types.WorkerStarting,
		activeRequests: make(map[string]time.Time),
	}
}

// Run blocks processing envelopes until the connection closes, the
// context is cancelled, or a Shutdown/Kill envelope ends the loop.
func (r *Runtime) Run(ctx context.Context) error {
	initCh, unsubInit := r.conn.Subscribe(ipc.TypeInit)
	defer unsubInit()
	reqCh, unsubReq := r.conn.Subscribe(ipc.TypeRequest)
	defer unsubReq()
	healthCh, unsubHealth := r.conn.Subscribe(ipc.TypeHealthCheck)
	defer unsubHealth()
	shutdownCh, unsubShutdown := r.conn.Subscribe(ipc.TypeShutdown)
	defer unsubShutdown()
	killCh, unsubKill := r.conn.Subscribe(ipc.TypeKill)
	defer unsubKill()

	select {
	case env := <-initCh:
		if err := r.handleInit(env); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-r.conn.Done():
		return fmt.Errorf("childrun: connection closed before init")
	}

	for {
		select {
		case env := <-reqCh:
			r.handleRequest(env)
		case <-healthCh:
			r.sendHealth()
		case env := <-shutdownCh:
			return r.handleShutdown(env)
		case <-killCh:
			r.stopHeartbeat()
			return nil
		case <-ctx.Done():
			r.stopHeartbeat()
			return ctx.Err()
		case <-r.conn.Done():
			r.stopHeartbeat()
			return fmt.Errorf("childrun: connection closed")
		}
	}
}

func (r *Runtime) handleInit(env ipc.Envelope) error {
	var p ipc.InitPayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	sb, err := sandbox.OpenRoot(p.Config.SandboxRoot, p.Config.WorkerID)
	if err != nil {
		_ = r.conn.SendType(ipc.TypeError, ipc.ErrorPayload{
			Message: fmt.Sprintf("sandbox init failed: %v", err),
			Code:    "SANDBOX_INIT_FAILED",
			Fatal:   true,
		})
		return err
	}

	r.mu.Lock()
	r.config = p.Config
	r.sandbox = sb
	r.startedAt = time.Now()
	r.mu.Unlock()

	r.startHeartbeat(p.Config.HeartbeatInterval)

	if err := r.conn.SendType(ipc.TypeReady, ipc.ReadyPayload{WorkerID: p.Config.WorkerID}); err != nil {
		return err
	}

	r.mu.Lock()
	r.state = types.WorkerReady
	r.mu.Unlock()

	wlog := log.WithWorker(p.Config.WorkerID)
	wlog.Info().Msg("worker ready")
	return nil
}

func (r *Runtime) startHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	r.heartbeatStop = make(chan struct{})
	stop := r.heartbeatStop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sendHeartbeat()
			case <-stop:
				return
			}
		}
	}()
}

func (r *Runtime) stopHeartbeat() {
	if r.heartbeatStop != nil {
		close(r.heartbeatStop)
		r.heartbeatStop = nil
	}
}

func (r *Runtime) sendHeartbeat() {
	r.mu.Lock()
	p := ipc.HeartbeatPayload{
		WorkerID:          r.config.WorkerID,
		State:             r.state,
		ActiveRequests:    len(r.activeRequests),
		MemoryBytes:       heapBytes(),
		RequestsProcessed: r.requestsProcessed,
	}
	r.mu.Unlock()

	_ = r.conn.SendType(ipc.TypeHeartbeat, p)
}

func (r *Runtime) sendHealth() {
	r.mu.Lock()
	h := types.HealthSnapshot{
		Pid:               pid(),
		State:             r.state,
		MemoryBytes:       heapBytes(),
		RequestsProcessed: r.requestsProcessed,
		ActiveRequests:    len(r.activeRequests),
		LastHeartbeat:     time.Now(),
		Uptime:            time.Since(r.startedAt),
		ErrorCount:        r.errorCount,
	}
	r.mu.Unlock()

	_ = r.conn.SendType(ipc.TypeHealth, ipc.HealthPayload{Health: h})
}

func (r *Runtime) handleShutdown(env ipc.Envelope) error {
	var p ipc.ShutdownPayload
	_ = env.Decode(&p)

	grace := time.Duration(p.GracePeriodMs) * time.Millisecond
	if grace <= 0 {
		grace = 5 * time.Second
	}
	deadline := time.Now().Add(grace)

	r.mu.Lock()
	r.state = types.WorkerStopping
	r.mu.Unlock()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		empty := len(r.activeRequests) == 0
		r.mu.Unlock()
		if empty || time.Now().After(deadline) {
			break
		}
		<-ticker.C
	}

	r.failRemainingRequests()
	r.stopHeartbeat()

	_ = r.conn.SendType(ipc.TypeEvent, ipc.EventPayload{
		Event: types.Event{Reason: types.EventReasonStopped, WorkerID: r.config.WorkerID},
	})

	r.mu.Lock()
	r.state = types.WorkerStopped
	r.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	return nil
}

func (r *Runtime) failRemainingRequests() {
	r.mu.Lock()
	remaining := make([]string, 0, len(r.activeRequests))
	for id := range r.activeRequests {
		remaining = append(remaining, id)
	}
	r.mu.Unlock()

	for _, id := range remaining {
		_ = r.conn.SendType(ipc.TypeResponse, ipc.ResponsePayload{
			Response: types.WorkerResponse{
				RequestID: id,
				Success:   false,
				Error:     "Worker shutting down",
				ErrorCode: "WORKER_SHUTDOWN",
			},
		})
		r.mu.Lock()
		delete(r.activeRequests, id)
		r.mu.Unlock()
	}
}
