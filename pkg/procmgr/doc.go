// Package procmgr forks and supervises a single OS child process: a
// stdin/stdout pipe pair for IPC, a captured stderr log buffer, and a
// SIGTERM-then-SIGKILL stop sequence. The pool package spawns one Process
// per worker slot.
package procmgr
