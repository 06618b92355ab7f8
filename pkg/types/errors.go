package types

import "errors"

// Error kinds raised by the router and the supervisor (spec.md §7). Callers
// should compare with errors.Is; the supervisor and router wrap these with
// contextual detail via fmt.Errorf("...: %w", Err...).
var (
	ErrNoWorkersAvailable   = errors.New("router: no workers available")
	ErrUnknownWorker        = errors.New("router: unknown worker")
	ErrPoolNotStarted       = errors.New("pool: not started")
	ErrPoolAlreadyStarted   = errors.New("pool: already started")
	ErrWorkerStartupTimeout = errors.New("pool: worker startup timed out")
	ErrWorkerStartupFailure = errors.New("pool: worker crashed during startup")
	ErrRequestTimeout       = errors.New("pool: request timed out")
	ErrWorkerExited         = errors.New("pool: worker process exited")
	ErrNoHealthyWorkers     = errors.New("pool: no healthy workers available")
)
