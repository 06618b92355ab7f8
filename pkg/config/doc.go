// Package config loads the supervisor's configuration: workerCount,
// sandboxBaseDir, the per-worker policy knobs, and the restart/router
// tuning values, with the defaults spec.md's external-interfaces table
// names. YAML is the on-disk format.
package config
