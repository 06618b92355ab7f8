// Package pool is the supervisor: it owns the lifecycle of a fixed set of
// worker slots, dispatches requests to them through the router, restarts
// crashed slots within a sliding-window budget, and aggregates their
// health into a single status snapshot. All mutation of its worker map
// happens inside one control goroutine that drains a fan-in channel of
// closures — the Go equivalent of spec.md's single-logical-control-thread
// requirement, without a lock on the hot dispatch path.
package pool
