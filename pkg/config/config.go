package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the supervisor's full configuration.
type Config struct {
	WorkerCount        int
	SandboxBaseDir     string
	WorkerBinary       string
	MaxConcurrent      int
	RequestTimeout     time.Duration
	HeartbeatInterval  time.Duration
	MaxMemory          uint64
	MaxRequests        uint64
	RestartDelay       time.Duration
	MaxRestartAttempts int
	RestartWindow      time.Duration
	VirtualNodes       int
	StatusAddr         string
	LogLevel           string
	LogJSON            bool

	// RoutingStatePath, if non-empty, is a directory holding a BoltDB
	// snapshot of the router's worker set and sticky assignment cache,
	// loaded at Start and flushed at Stop and on every cache mutation.
	// Empty disables routing-state persistence.
	RoutingStatePath string
}

// yamlConfig mirrors Config but with millisecond integers in place of
// time.Duration, since yaml.v3 has no built-in Duration support.
type yamlConfig struct {
	WorkerCount        *int    `yaml:"workerCount"`
	SandboxBaseDir     *string `yaml:"sandboxBaseDir"`
	WorkerBinary       *string `yaml:"workerBinary"`
	MaxConcurrent      *int    `yaml:"maxConcurrent"`
	RequestTimeoutMs   *int64  `yaml:"requestTimeout"`
	HeartbeatIntervalMs *int64 `yaml:"heartbeatInterval"`
	MaxMemory          *uint64 `yaml:"maxMemory"`
	MaxRequests        *uint64 `yaml:"maxRequests"`
	RestartDelayMs     *int64  `yaml:"restartDelay"`
	MaxRestartAttempts *int    `yaml:"maxRestartAttempts"`
	RestartWindowMs    *int64  `yaml:"restartWindow"`
	VirtualNodes       *int    `yaml:"virtualNodes"`
	StatusAddr         *string `yaml:"statusAddr"`
	LogLevel           *string `yaml:"logLevel"`
	LogJSON            *bool   `yaml:"logJson"`
	RoutingStatePath   *string `yaml:"routingStatePath"`
}

// Default returns spec.md §6's default configuration table.
func Default() Config {
	return Config{
		WorkerCount:        4,
		SandboxBaseDir:     filepath.Join(os.TempDir(), "moltpool-workers"),
		WorkerBinary:       "moltworker",
		MaxConcurrent:      10,
		RequestTimeout:     120 * time.Second,
		HeartbeatInterval:  5 * time.Second,
		MaxMemory:          512 * 1024 * 1024,
		MaxRequests:        10_000,
		RestartDelay:       1 * time.Second,
		MaxRestartAttempts: 5,
		RestartWindow:      60 * time.Second,
		VirtualNodes:       150,
		StatusAddr:         ":9090",
		LogLevel:           "info",
		LogJSON:            false,
		RoutingStatePath:   "",
	}
}

// Load reads a YAML file at path and overlays it onto Default(); any field
// the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyOverrides(&cfg, y)
	return cfg, nil
}

func applyOverrides(cfg *Config, y yamlConfig) {
	if y.WorkerCount != nil {
		cfg.WorkerCount = *y.WorkerCount
	}
	if y.SandboxBaseDir != nil {
		cfg.SandboxBaseDir = *y.SandboxBaseDir
	}
	if y.WorkerBinary != nil {
		cfg.WorkerBinary = *y.WorkerBinary
	}
	if y.MaxConcurrent != nil {
		cfg.MaxConcurrent = *y.MaxConcurrent
	}
	if y.RequestTimeoutMs != nil {
		cfg.RequestTimeout = time.Duration(*y.RequestTimeoutMs) * time.Millisecond
	}
	if y.HeartbeatIntervalMs != nil {
		cfg.HeartbeatInterval = time.Duration(*y.HeartbeatIntervalMs) * time.Millisecond
	}
	if y.MaxMemory != nil {
		cfg.MaxMemory = *y.MaxMemory
	}
	if y.MaxRequests != nil {
		cfg.MaxRequests = *y.MaxRequests
	}
	if y.RestartDelayMs != nil {
		cfg.RestartDelay = time.Duration(*y.RestartDelayMs) * time.Millisecond
	}
	if y.MaxRestartAttempts != nil {
		cfg.MaxRestartAttempts = *y.MaxRestartAttempts
	}
	if y.RestartWindowMs != nil {
		cfg.RestartWindow = time.Duration(*y.RestartWindowMs) * time.Millisecond
	}
	if y.VirtualNodes != nil {
		cfg.VirtualNodes = *y.VirtualNodes
	}
	if y.StatusAddr != nil {
		cfg.StatusAddr = *y.StatusAddr
	}
	if y.LogLevel != nil {
		cfg.LogLevel = *y.LogLevel
	}
	if y.LogJSON != nil {
		cfg.LogJSON = *y.LogJSON
	}
	if y.RoutingStatePath != nil {
		cfg.RoutingStatePath = *y.RoutingStatePath
	}
}

// WorkerID returns the stable slot identifier for index i.
func WorkerID(i int) string {
	return fmt.Sprintf("worker-%d", i)
}
