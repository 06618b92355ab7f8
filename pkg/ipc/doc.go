// Package ipc implements the newline-delimited JSON protocol the
// supervisor and a worker child speak over the child's stdin/stdout. Every
// envelope carries a type tag and a millisecond send timestamp; Conn frames
// envelopes one per line and lets callers wait for the next envelope of a
// given type with a timeout.
package ipc
