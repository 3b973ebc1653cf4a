// Package config provides configuration loading from environment variables.
package config

import (
	"log/slog"
	"strings"
	"time"
)

// Runtime names accepted by RUNTIME.
const (
	RuntimeExec   = "exec"
	RuntimeDocker = "docker"
)

// ServiceConfig holds configuration for the simulation service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	LogLevel          slog.Level

	SimulationsDir      string        // Parent of every job working directory
	Binary              string        // Simulation executable (name on PATH or absolute path)
	BinaryArgs          []string      // Extra arguments passed to the executable
	Runtime             string        // "exec" or "docker"
	Image               string        // Image used by the docker runtime
	MonitorInterval     time.Duration // Background sweep period
	StopGracePeriod     time.Duration // SIGTERM to SIGKILL escalation (0 disables)
	AllowRerunCompleted bool          // Whether a naturally completed job may run again
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		LogLevel:          ParseLevel(GetEnv("LOG_LEVEL", "info")),

		SimulationsDir:      GetEnv("SIMULATIONS_DIR", "/app/simulation_files"),
		Binary:              GetEnv("SIMULATION_BINARY", "SimPARTIX"),
		BinaryArgs:          GetListEnv("SIMULATION_ARGS"),
		Runtime:             strings.ToLower(GetEnv("RUNTIME", RuntimeExec)),
		Image:               GetEnv("SIMULATION_IMAGE", "simpartix:latest"),
		MonitorInterval:     GetDurationEnv("MONITOR_INTERVAL", 10*time.Second),
		StopGracePeriod:     GetDurationEnv("STOP_GRACE_PERIOD", 10*time.Second),
		AllowRerunCompleted: GetBoolEnv("ALLOW_RERUN_COMPLETED", false),
	}
}

// ParseLevel parses a slog level name, falling back to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
