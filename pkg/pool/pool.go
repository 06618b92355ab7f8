package pool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/moltbot/pool/pkg/config"
	"github.com/moltbot/pool/pkg/events"
	"github.com/moltbot/pool/pkg/ipc"
	"github.com/moltbot/pool/pkg/procmgr"
	"github.com/moltbot/pool/pkg/router"
	"github.com/moltbot/pool/pkg/sandbox"
	"github.com/moltbot/pool/pkg/types"
)

const shutdownGrace = 5 * time.Second

// pendingRequest is one in-flight correlation, keyed by request id on a
// workerRecord's pending map.
type pendingRequest struct {
	request   types.WorkerRequest
	timer     *time.Timer
	resultCh  chan types.WorkerResponse
}

// workerRecord is the supervisor's per-slot bookkeeping.
type workerRecord struct {
	id      string
	process *procmgr.Process
	conn    *ipc.Conn
	sandbox *sandbox.Sandbox
	config  types.WorkerConfig

	state         types.WorkerState
	health        types.HealthSnapshot
	lastHeartbeat time.Time

	restartCount int
	restartTimes []time.Time

	pending map[string]*pendingRequest
}

// controlFunc is a closure the control goroutine executes serially; it is
// the only thing allowed to read or write a workerRecord's fields.
type controlFunc func()

// Pool is the worker-pool supervisor.
type Pool struct {
	cfg        config.Config
	router     *router.Router
	sandboxMgr *sandbox.Manager
	events     *events.Broker

	controlCh chan controlFunc
	stopCh    chan struct{}
	startOnce sync.Once

	workers  map[string]*workerRecord
	started  bool
	stopping bool
	degraded bool

	reconciler    *Reconciler
	collector     *MetricsCollector
	routerPersist *router.BoltPersister
}

// New returns a Pool bound to cfg. It does nothing until Start is called.
func New(cfg config.Config) *Pool {
	return &Pool{
		cfg:        cfg,
		router:     router.New(cfg.VirtualNodes),
		sandboxMgr: sandbox.NewManager(cfg.SandboxBaseDir),
		events:     events.NewBroker(),
		controlCh:  make(chan controlFunc, 256),
		stopCh:     make(chan struct{}),
		workers:    make(map[string]*workerRecord),
	}
}

// Events returns the pool's event broker.
func (p *Pool) Events() *events.Broker { return p.events }

func (p *Pool) run() {
	for {
		select {
		case fn := <-p.controlCh:
			fn()
		case <-p.stopCh:
			return
		}
	}
}

// do submits fn to the control goroutine and blocks until it has run.
func (p *Pool) do(fn func()) {
	done := make(chan struct{})
	select {
	case p.controlCh <- func() { fn(); close(done) }:
	case <-p.stopCh:
		return
	}
	select {
	case <-done:
	case <-p.stopCh:
	}
}

// post submits fn to the control goroutine without waiting for it to run;
// background listeners (IPC readers, exit watchers, timers) use this.
func (p *Pool) post(fn func()) {
	select {
	case p.controlCh <- fn:
	case <-p.stopCh:
	}
}

// Start initializes the sandbox base directory, loads any persisted routing
// state (if cfg.RoutingStatePath is set), registers every slot id with the
// router, and spawns every slot in parallel. It resolves once every slot
// has reached Ready, or fails with a per-slot startup timeout.
func (p *Pool) Start(ctx context.Context) error {
	p.startOnce.Do(func() { go p.run() })

	var already bool
	p.do(func() {
		if p.started {
			already = true
			return
		}
		p.started = true
	})
	if already {
		return types.ErrPoolAlreadyStarted
	}

	if err := os.MkdirAll(p.cfg.SandboxBaseDir, 0700); err != nil {
		return fmt.Errorf("pool: create sandbox base dir: %w", err)
	}

	if p.cfg.RoutingStatePath != "" {
		if err := os.MkdirAll(p.cfg.RoutingStatePath, 0700); err != nil {
			return fmt.Errorf("pool: create routing state dir: %w", err)
		}
		persist, err := router.NewBoltPersister(p.cfg.RoutingStatePath)
		if err != nil {
			return fmt.Errorf("pool: open routing state store: %w", err)
		}
		if err := p.router.WithPersistence(persist); err != nil {
			persist.Close()
			return fmt.Errorf("pool: load routing state: %w", err)
		}
		p.routerPersist = persist
	}

	ids := make([]string, p.cfg.WorkerCount)
	for i := range ids {
		ids[i] = config.WorkerID(i)
	}
	for _, id := range ids {
		p.router.AddWorker(id)
	}

	results := make(chan error, len(ids))
	for _, id := range ids {
		id := id
		go func() { results <- p.bootSlot(ctx, id) }()
	}

	var firstErr error
	for range ids {
		if err := <-results; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	p.reconciler = NewReconciler(p)
	p.reconciler.Start()
	p.collector = NewMetricsCollector(p)
	p.collector.Start()

	p.events.Publish(events.Event{Type: events.PoolReady})
	return nil
}

func (p *Pool) bootSlot(ctx context.Context, id string) error {
	rec := &workerRecord{id: id, state: types.WorkerStarting, pending: make(map[string]*pendingRequest)}
	p.do(func() { p.workers[id] = rec })

	if err := p.spawnProcess(ctx, rec); err != nil {
		return err
	}
	return p.waitForReady(rec, 30*time.Second)
}

// Stop sends Shutdown to every live worker, escalating to SIGKILL after
// gracePeriod+1s, then clears the worker map.
func (p *Pool) Stop(ctx context.Context) error {
	if p.reconciler != nil {
		p.reconciler.Stop()
	}
	if p.collector != nil {
		p.collector.Stop()
	}

	var recs []*workerRecord
	p.do(func() {
		p.stopping = true
		for _, r := range p.workers {
			recs = append(recs, r)
		}
	})

	var wg sync.WaitGroup
	for _, r := range recs {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.stopWorker(ctx, r)
		}()
	}
	wg.Wait()

	p.do(func() { p.workers = make(map[string]*workerRecord) })

	if p.routerPersist != nil {
		p.router.Flush()
		p.routerPersist.Close()
	}

	close(p.stopCh)
	return nil
}

func (p *Pool) stopWorker(ctx context.Context, r *workerRecord) {
	var proc *procmgr.Process
	var conn *ipc.Conn
	p.do(func() {
		proc = r.process
		conn = r.conn
		r.state = types.WorkerStopping
	})
	if proc == nil || conn == nil {
		return
	}

	_ = conn.SendType(ipc.TypeShutdown, ipc.ShutdownPayload{GracePeriodMs: shutdownGrace.Milliseconds()})

	select {
	case <-proc.WaitCh():
	case <-time.After(shutdownGrace + time.Second):
		_ = proc.Kill()
	case <-ctx.Done():
		_ = proc.Kill()
	}
}
