// Package types holds the data shapes shared across the worker pool: the
// sum-type enums for worker lifecycle and request kinds, the wire structs
// carried over IPC, and the sentinel errors the supervisor and router raise.
package types
