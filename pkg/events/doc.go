// Package events is the pool's observer surface: a small pub/sub broker
// carrying the worker and request lifecycle events spec.md's "Event
// surface" names, for anything (a status endpoint, a log sink, a test)
// that wants to watch the pool without polling Status().
package events
