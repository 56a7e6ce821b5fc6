// Package config loads the engine's two layers of configuration: a small
// set of environment-variable-driven process defaults (log level, where
// the policy file and audit log live), and a richer policy document
// loaded once from YAML and validated against a JSON Schema before the
// engine accepts any decision traffic.
package config

import "os"

// EnvConfig holds process-level defaults read from the environment.
type EnvConfig struct {
	LogLevel      string
	PolicyPath    string
	OTELEndpoint  string
	ListenHealthz string
}

// Load reads EnvConfig from the environment, applying safe defaults for
// anything unset so the process can boot in a bare dev environment.
func Load() *EnvConfig {
	logLevel := os.Getenv("SENTINEL_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	policyPath := os.Getenv("SENTINEL_POLICY_PATH")
	if policyPath == "" {
		policyPath = "config/policy.yaml"
	}

	otelEndpoint := os.Getenv("SENTINEL_OTEL_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	healthz := os.Getenv("SENTINEL_HEALTHZ_ADDR")
	if healthz == "" {
		healthz = ":8081"
	}

	return &EnvConfig{
		LogLevel:      logLevel,
		PolicyPath:    policyPath,
		OTELEndpoint:  otelEndpoint,
		ListenHealthz: healthz,
	}
}
