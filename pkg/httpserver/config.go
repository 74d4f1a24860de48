// pkg/httpserver/config.go
package httpserver

import (
	"fmt"
	"strings"
	"time"
)

// Config defines timeouts and paths for the HTTP server.
type Config struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path"`
	HealthzPath     string        `mapstructure:"healthz_path"`
	ReadyzPath      string        `mapstructure:"readyz_path"`
}

// Addr returns the listen address, e.g. ":8080".
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.HealthzPath == "" {
		c.HealthzPath = "/healthz"
	}
	if c.ReadyzPath == "" {
		c.ReadyzPath = "/readyz"
	}
}

// Validate checks the port and that every path is absolute and unique.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("httpserver: port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("httpserver: timeouts must not be negative")
	}
	seen := map[string]bool{}
	for _, p := range []string{c.MetricsPath, c.HealthzPath, c.ReadyzPath} {
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("httpserver: path %q must start with '/'", p)
		}
		if seen[p] {
			return fmt.Errorf("httpserver: duplicate path %q", p)
		}
		seen[p] = true
	}
	return nil
}
