// Package config provides configuration management for the simulator.
// This file centralizes default port constants to avoid duplication.
package config

// Default service ports. Load's "api.port"/"monitoring.prometheus_port"
// defaults point here; both are overridable via config file or env var.
const (
	// APIServerPort is the default port for the simulator's REST API.
	APIServerPort = 8080

	// MetricsServerPort is the default port for the Prometheus /metrics
	// and /health endpoints.
	MetricsServerPort = 9100
)
