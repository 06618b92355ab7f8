// Package statusapi exposes the supervisor's health, readiness, status,
// and metrics endpoints over plain HTTP.
package statusapi
