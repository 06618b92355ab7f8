// Package gateway is the thin adapter an external request ingress talks
// to instead of the supervisor directly: it derives a user id, maps a
// wire request type to the internal RequestType, and translates pool
// errors into a GatewayResponse instead of a Go error.
package gateway
