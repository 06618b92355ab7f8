// Package router implements the sticky-routing consistent-hash ring that
// maps user identifiers to worker identifiers. A Router holds a sorted ring
// of virtual nodes (FNV-1a hashed "<workerId>:<i>" keys) plus an assignment
// cache that wins over the ring once a user has been routed: adding or
// removing a worker reshuffles the ring but never touches cached
// assignments except to purge ones that pointed at a removed worker.
package router
