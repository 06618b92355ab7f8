package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/moltbot/pool/pkg/events"
	"github.com/moltbot/pool/pkg/ipc"
	"github.com/moltbot/pool/pkg/log"
	"github.com/moltbot/pool/pkg/procmgr"
	"github.com/moltbot/pool/pkg/sandbox"
	"github.com/moltbot/pool/pkg/types"
)

// spawnProcess obtains/creates rec's sandbox, composes its WorkerConfig,
// forks the worker binary with a filtered environment, wires stdin/stdout
// through an ipc.Conn, and sends Init. It does not wait for Ready.
func (p *Pool) spawnProcess(ctx context.Context, rec *workerRecord) error {
	sb := rec.sandbox
	if sb == nil {
		var err error
		sb, err = sandbox.Open(p.cfg.SandboxBaseDir, rec.id)
		if err != nil {
			return fmt.Errorf("pool: open sandbox for %s: %w", rec.id, err)
		}
	} else if err := sb.Init(); err != nil {
		return fmt.Errorf("pool: reinit sandbox for %s: %w", rec.id, err)
	}

	workerCfg := types.WorkerConfig{
		WorkerID:          rec.id,
		SandboxRoot:       sb.Root(),
		InstanceID:        sb.InstanceID(),
		KeyFingerprint:    sb.KeyFingerprint(),
		MaxConcurrent:     p.cfg.MaxConcurrent,
		RequestTimeout:    p.cfg.RequestTimeout,
		HeartbeatInterval: p.cfg.HeartbeatInterval,
		MaxMemory:         p.cfg.MaxMemory,
		MaxRequests:       p.cfg.MaxRequests,
	}

	env := sb.BuildEnv(sandbox.HostEnviron())
	proc := procmgr.New(p.cfg.WorkerBinary, nil, env)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("pool: start worker %s: %w", rec.id, err)
	}

	conn := ipc.NewConn(proc.Stdout(), proc.Stdin())

	p.do(func() {
		rec.sandbox = sb
		rec.config = workerCfg
		rec.process = proc
		rec.conn = conn
		rec.state = types.WorkerStarting
	})

	go p.listenWorker(rec, conn)
	go func() {
		err := <-proc.WaitCh()
		p.post(func() { p.handleExit(rec, err) })
	}()

	if err := conn.SendType(ipc.TypeInit, ipc.InitPayload{Config: workerCfg}); err != nil {
		return fmt.Errorf("pool: send init to %s: %w", rec.id, err)
	}
	return nil
}

// waitForReady polls rec's state every 100ms until Ready, Crashed, or
// timeout.
func (p *Pool) waitForReady(rec *workerRecord, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		var state types.WorkerState
		p.do(func() { state = rec.state })

		switch state {
		case types.WorkerReady, types.WorkerBusy:
			return nil
		case types.WorkerCrashed:
			return types.ErrWorkerStartupFailure
		}
		if time.Now().After(deadline) {
			return types.ErrWorkerStartupTimeout
		}
		<-ticker.C
	}
}

// listenWorker subscribes to every worker->supervisor envelope type and
// posts a handler call to the control goroutine for each, until conn
// closes.
func (p *Pool) listenWorker(rec *workerRecord, conn *ipc.Conn) {
	readyCh, unsubReady := conn.Subscribe(ipc.TypeReady)
	defer unsubReady()
	respCh, unsubResp := conn.Subscribe(ipc.TypeResponse)
	defer unsubResp()
	healthCh, unsubHealth := conn.Subscribe(ipc.TypeHealth)
	defer unsubHealth()
	heartbeatCh, unsubHeartbeat := conn.Subscribe(ipc.TypeHeartbeat)
	defer unsubHeartbeat()
	eventCh, unsubEvent := conn.Subscribe(ipc.TypeEvent)
	defer unsubEvent()
	errCh, unsubErr := conn.Subscribe(ipc.TypeError)
	defer unsubErr()

	for {
		select {
		case env := <-readyCh:
			var pl ipc.ReadyPayload
			_ = env.Decode(&pl)
			p.post(func() { p.onReady(rec) })

		case env := <-respCh:
			var pl ipc.ResponsePayload
			_ = env.Decode(&pl)
			p.post(func() { p.onResponse(rec, pl.Response) })

		case env := <-healthCh:
			var pl ipc.HealthPayload
			_ = env.Decode(&pl)
			p.post(func() { p.onHealth(rec, pl.Health) })

		case env := <-heartbeatCh:
			var pl ipc.HeartbeatPayload
			_ = env.Decode(&pl)
			p.post(func() { p.onHeartbeat(rec, pl) })

		case env := <-eventCh:
			var pl ipc.EventPayload
			_ = env.Decode(&pl)
			p.post(func() { p.onEvent(rec, pl.Event) })

		case env := <-errCh:
			var pl ipc.ErrorPayload
			_ = env.Decode(&pl)
			p.post(func() { p.onErrorEnvelope(rec, pl) })

		case <-conn.Done():
			return
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) onReady(rec *workerRecord) {
	rec.state = types.WorkerReady
	p.events.Publish(events.Event{Type: events.WorkerReady, WorkerID: rec.id})
	wlog := log.WithWorker(rec.id)
	wlog.Info().Msg("worker reported ready")
}
