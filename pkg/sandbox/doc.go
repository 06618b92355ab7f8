// Package sandbox gives each worker an isolated root directory, a
// persistent cryptographic instance identity, and an environment overlay
// that re-roots XDG/tempdir-aware libraries inside that directory. It is
// the pool's filesystem and environment isolation boundary.
package sandbox
