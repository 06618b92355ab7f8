// Package log provides the pool's structured logging, a thin wrapper over
// zerolog with component- and worker-scoped child loggers. Console output in
// development, JSON in production; see Init.
package log
