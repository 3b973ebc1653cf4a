package dispatcher

import (
	"simcontroller/internal/config"
	"simcontroller/pkg/backoff"
	"time"
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	MaxRetries  int           // retries after the first attempt (default: 3, negative: none)
	Backoff     backoff.Policy
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:  config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 1000),
		Workers:     config.GetIntEnv("DISPATCHER_WORKERS", 4),
		HTTPTimeout: config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:  config.GetIntEnv("DISPATCHER_MAX_RETRIES", 3),
		Backoff: backoff.Policy{
			Initial: config.GetDurationEnv("DISPATCHER_BACKOFF_INITIAL", 0),
			Max:     config.GetDurationEnv("DISPATCHER_BACKOFF_MAX", 0),
		},
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = 3
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	return c
}
