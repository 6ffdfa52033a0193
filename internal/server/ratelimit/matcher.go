package ratelimit

import (
	"net"
	"strings"
	"time"

	"github.com/jonathan/chart-digitizer/internal/config"
)

// EndpointConfig is the limit for one route. Paths ending in "/" match by prefix.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int
	Window time.Duration
	Burst  int
}

// key groups every path a rule matches into one bucket; the default rule is shared.
func (e *EndpointConfig) key() string {
	if e.Path != "" {
		return e.Path
	}
	return "*"
}

// MatchEndpoint returns the configuration for path and method, or nil to use the default.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	if method == "GET" && (path == "/health" || path == "/") {
		return &EndpointConfig{Path: path}
	}

	for i := range configs {
		c := &configs[i]
		if c.Path == path && c.Method == method {
			return c
		}
	}
	for i := range configs {
		c := &configs[i]
		if c.Method == method && strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			return c
		}
	}
	return nil
}

// FromSettings builds the limiter config for the API mounted at prefix. Uploads get their own
// per-minute budget; every other route shares the default.
func FromSettings(cfg config.RateLimitConfig, prefix string) *Config {
	whitelist := make(map[string]bool, len(cfg.Whitelist))
	for _, ip := range cfg.Whitelist {
		if parsed := net.ParseIP(strings.TrimSpace(ip)); parsed != nil {
			whitelist[parsed.String()] = true
		}
	}

	return &Config{
		Enabled:         cfg.Enabled,
		DefaultLimit:    cfg.RequestsPerMinute,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		Whitelist:       whitelist,
		EndpointConfigs: []EndpointConfig{
			{
				Path:   strings.TrimSuffix(prefix, "/") + "/charts",
				Method: "POST",
				Limit:  cfg.UploadsPerMinute,
				Window: time.Minute,
				Burst:  cfg.UploadBurst,
			},
		},
	}
}
