package router

import (
	"fmt"
	"sync"

	"github.com/moltbot/pool/pkg/types"
)

const DefaultVirtualNodes = 150

// Router maps user identifiers to worker identifiers via a consistent-hash
// ring, with a sticky assignment cache that takes priority over the ring for
// as long as the cached worker is still registered. All methods are safe for
// concurrent use.
type Router struct {
	mu           sync.RWMutex
	workers      map[string]bool
	ring         *ring
	assignments  map[string]string
	virtualNodes int

	persist persister
}

// persister is the optional on-disk snapshot backend; see WithPersistence.
type persister interface {
	Save(types.RouterState) error
	Load() (types.RouterState, bool, error)
}

// New creates a Router with the given virtual-node count. A virtualNodes of
// 0 uses DefaultVirtualNodes.
func New(virtualNodes int) *Router {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Router{
		workers:      make(map[string]bool),
		ring:         buildRing(nil, virtualNodes),
		assignments:  make(map[string]string),
		virtualNodes: virtualNodes,
	}
}

// WithPersistence attaches a snapshot backend. If the backend already holds
// a snapshot, it is loaded immediately.
func (r *Router) WithPersistence(p persister) error {
	r.mu.Lock()
	r.persist = p
	r.mu.Unlock()

	state, ok, err := p.Load()
	if err != nil {
		return fmt.Errorf("router: load persisted state: %w", err)
	}
	if !ok {
		return nil
	}
	r.FromState(state)
	return nil
}

func (r *Router) saveLocked() {
	if r.persist == nil {
		return
	}
	state := r.exportLocked()
	// Best effort: a Save error is discarded, so a persistence failure
	// never fails routing.
	_ = r.persist.Save(state)
}

// AddWorker registers a worker, idempotently. It rebuilds the ring but never
// touches the assignment cache — stickiness wins over rebalance.
func (r *Router) AddWorker(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.workers[workerID] {
		return
	}
	r.workers[workerID] = true
	r.rebuildRingLocked()
	r.saveLocked()
}

// RemoveWorker unregisters a worker, idempotently, dropping its ring nodes
// and purging every cache entry that pointed at it.
func (r *Router) RemoveWorker(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.workers[workerID] {
		return
	}
	delete(r.workers, workerID)
	r.rebuildRingLocked()

	for user, w := range r.assignments {
		if w == workerID {
			delete(r.assignments, user)
		}
	}
	r.saveLocked()
}

func (r *Router) rebuildRingLocked() {
	workers := make([]string, 0, len(r.workers))
	for w := range r.workers {
		workers = append(workers, w)
	}
	r.ring = buildRing(workers, r.virtualNodes)
}

// Route resolves userID to a worker id, consulting and populating the
// sticky cache. Fails with ErrNoWorkersAvailable when the ring is empty.
func (r *Router) Route(userID string) (types.RouteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := hashKey(userID)

	if cached, ok := r.assignments[userID]; ok && r.workers[cached] {
		return types.RouteResult{WorkerID: cached, UserID: userID, HashValue: hash, IsNewAssignment: false}, nil
	}

	node, ok := r.ring.lookup(hash)
	if !ok {
		return types.RouteResult{}, types.ErrNoWorkersAvailable
	}

	r.assignments[userID] = node.workerID
	r.saveLocked()
	return types.RouteResult{WorkerID: node.workerID, UserID: userID, HashValue: hash, IsNewAssignment: true}, nil
}

// Peek performs a non-caching ring lookup: it never reads or writes the
// assignment cache. Returns ok=false when the ring is empty.
func (r *Router) Peek(userID string) (types.RouteResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hash := hashKey(userID)
	node, ok := r.ring.lookup(hash)
	if !ok {
		return types.RouteResult{}, false
	}
	return types.RouteResult{WorkerID: node.workerID, UserID: userID, HashValue: hash, IsNewAssignment: false}, true
}

// ForceAssign installs a cache entry bypassing the ring. Fails with
// ErrUnknownWorker if workerID is not registered.
func (r *Router) ForceAssign(userID, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.workers[workerID] {
		return fmt.Errorf("%w: %s", types.ErrUnknownWorker, workerID)
	}
	r.assignments[userID] = workerID
	r.saveLocked()
	return nil
}

// ClearAssignment purges one cache entry.
func (r *Router) ClearAssignment(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments, userID)
	r.saveLocked()
}

// Flush writes the current snapshot to the attached persister, if any. It
// is a no-op when WithPersistence was never called.
func (r *Router) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveLocked()
}

// ClearCache purges every cache entry.
func (r *Router) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments = make(map[string]string)
	r.saveLocked()
}

// RoutingTableSize returns the number of cached assignments.
func (r *Router) RoutingTableSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assignments)
}

// Workers returns the currently registered worker ids.
func (r *Router) Workers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.workers))
	for w := range r.workers {
		out = append(out, w)
	}
	return out
}

// ExportState returns a serializable snapshot of the worker set, the
// assignment cache, and the virtual-node count.
func (r *Router) ExportState() types.RouterState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exportLocked()
}

func (r *Router) exportLocked() types.RouterState {
	workers := make([]string, 0, len(r.workers))
	for w := range r.workers {
		workers = append(workers, w)
	}
	assignments := make(map[string]string, len(r.assignments))
	for u, w := range r.assignments {
		assignments[u] = w
	}
	return types.RouterState{Workers: workers, Assignments: assignments, VirtualNodes: r.virtualNodes}
}

// FromState replaces the router's contents with state, dropping any
// assignment whose worker is not present in state.Workers.
func (r *Router) FromState(state types.RouterState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state.VirtualNodes > 0 {
		r.virtualNodes = state.VirtualNodes
	}

	r.workers = make(map[string]bool, len(state.Workers))
	for _, w := range state.Workers {
		r.workers[w] = true
	}
	r.rebuildRingLocked()

	r.assignments = make(map[string]string, len(state.Assignments))
	for u, w := range state.Assignments {
		if r.workers[w] {
			r.assignments[u] = w
		}
	}
}
