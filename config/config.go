// Package config provides worker configuration loaded from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the configuration for one worker process.
type Config struct {
	// Component identity announced on the mesh
	Name    string `envconfig:"SERVICE_NAME" required:"true"`
	Version string `envconfig:"SERVICE_VERSION" default:"1.0.0"`

	// Channel: listen on TCP_ADDR, or subscribe to NATS_URL/NATS_SUBJECT
	TCPAddr     string `envconfig:"TCP_ADDR"`
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT"`

	// Router endpoints for run-time calls (empty = calls disabled)
	RouterAddrs []string `envconfig:"ROUTER_ADDRS"`

	// Registry (empty = no announcement)
	EtcdEndpoints []string `envconfig:"ETCD_ENDPOINTS"`
	RegisterTTL   int64    `envconfig:"REGISTER_TTL" default:"10"`

	// Execution limits
	Timeout      time.Duration `envconfig:"EXECUTION_TIMEOUT" default:"30s"`
	MaxCallDepth int           `envconfig:"MAX_CALL_DEPTH" default:"8"`

	// Graceful shutdown bound
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration needed to run a worker loop.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("SERVICE_NAME is required")
	}
	if c.TCPAddr == "" && (c.NATSURL == "" || c.NATSSubject == "") {
		return fmt.Errorf("either TCP_ADDR or NATS_URL with NATS_SUBJECT is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT must be positive")
	}
	if c.MaxCallDepth <= 0 {
		return fmt.Errorf("MAX_CALL_DEPTH must be positive")
	}
	return nil
}
