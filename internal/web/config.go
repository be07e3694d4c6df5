package web

import (
	"github.com/locmaster/internal/config"
)

// Config represents the web server configuration
type Config struct {
	Server   ServerConfig
	Features FeatureConfig
	Debug    bool
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port int
	Host string
}

// FeatureConfig contains feature toggles
type FeatureConfig struct {
	// MergeApplyEnabled exposes POST /api/duplicates/{group}/merge
	MergeApplyEnabled bool
	// RequestLogging prints a line per request
	RequestLogging bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Features: FeatureConfig{
			MergeApplyEnabled: false,
			RequestLogging:    true,
		},
	}
}

// ConfigFromEnv overlays WEB_HOST, WEB_PORT, ENABLE_MERGE_APPLY and
// WEB_REQUEST_LOGGING on the defaults
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Server.Host = config.GetEnv("WEB_HOST", cfg.Server.Host)
	cfg.Server.Port = config.GetEnvInt("WEB_PORT", cfg.Server.Port)
	cfg.Features.MergeApplyEnabled = config.GetEnvBool("ENABLE_MERGE_APPLY", cfg.Features.MergeApplyEnabled)
	cfg.Features.RequestLogging = config.GetEnvBool("WEB_REQUEST_LOGGING", cfg.Features.RequestLogging)
	return cfg
}
