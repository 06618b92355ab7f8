// Package childrun is the in-child half of the worker pool: the runtime
// loop a spawned worker process runs after cmd/moltworker wires it to the
// supervisor's IPC connection. It owns the single in-memory state record
// the boot sequence, request dispatch, heartbeat, and graceful shutdown all
// act on.
package childrun
