// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// ErrMissingBaseURL is returned when no upstream base URL is configured.
// The service cannot serve any request without it.
var ErrMissingBaseURL = errors.New("upstream.base_url is required (set it in the config file, --api-base-url or API_BASE_URL)")

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/portal-proxy/config.toml",
	"configs/config.toml",
}

// Mock fallback modes.
const (
	MockModeAuto = "auto"
	MockModeOn   = "on"
	MockModeOff  = "off"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIBaseURL  string `kong:"name='api-base-url',help='Upstream backend base URL (overrides config).',env='API_BASE_URL'"`
	Environment string `kong:"help='Deployment environment, e.g. development|production (overrides config).',env='APP_ENV'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	App      AppConfig      `toml:"app"`
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Mock     MockConfig     `toml:"mock"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// AppConfig holds deployment-level settings.
type AppConfig struct {
	Environment string `toml:"environment"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RoutePrefix  string          `toml:"route_prefix"`
	CORSOrigins  []string        `toml:"cors_origins"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL          string   `toml:"base_url"`
	PathPrefix       string   `toml:"path_prefix"`
	AllowedHosts     []string `toml:"allowed_hosts"`
	TimeoutSeconds   int      `toml:"timeout_seconds"`
	IdleConnections  int      `toml:"idle_connections"`
	MaxResponseBytes int64    `toml:"max_response_bytes"`
	Dedup            bool     `toml:"dedup"`
}

// MockConfig controls the canned-response fallback used while the backend is down.
type MockConfig struct {
	Mode        string      `toml:"mode"`
	PlatformEnv string      `toml:"platform_env"`
	Routes      []MockRoute `toml:"routes"`

	// Enabled is resolved from Mode at load time.
	Enabled bool `toml:"-"`
}

// MockRoute is a single canned response keyed by backend path.
type MockRoute struct {
	Path   string `toml:"path"`
	Status int    `toml:"status"`
	Body   string `toml:"body"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/portal-proxy/config.toml then configs/config.toml. If neither exists,
// configuration comes from CLI flags and environment variables alone.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	cfg.Mock.Enabled = cfg.mockEnabled(os.Getenv)
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.APIBaseURL != "" {
		c.Upstream.BaseURL = cli.APIBaseURL
	}
	if cli.Environment != "" {
		c.App.Environment = cli.Environment
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must use http or https; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url must include a host; got %q", c.Upstream.BaseURL)
	}
	if len(c.Upstream.AllowedHosts) > 0 && !c.Upstream.HostAllowed(u.Hostname()) {
		return fmt.Errorf("upstream host %q is not in upstream.allowed_hosts", u.Hostname())
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be non-negative; got %d", c.Upstream.MaxResponseBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Prefixes.
	if p := c.Server.RoutePrefix; p != "" && (p[0] != '/' || p == "/") {
		return fmt.Errorf("server.route_prefix must start with '/' and not be the root; got %q", p)
	}
	if p := c.Upstream.PathPrefix; p != "" && p[0] != '/' {
		return fmt.Errorf("upstream.path_prefix must start with '/'; got %q", p)
	}

	// Mock fallback.
	switch strings.ToLower(c.Mock.Mode) {
	case MockModeAuto, MockModeOn, MockModeOff, "":
		// valid
	default:
		return fmt.Errorf("mock.mode must be one of: auto, on, off; got %q", c.Mock.Mode)
	}
	for i, r := range c.Mock.Routes {
		if r.Path == "" || r.Path[0] != '/' {
			return fmt.Errorf("mock.routes[%d].path must start with '/'; got %q", i, r.Path)
		}
		if r.Status != 0 && (r.Status < 100 || r.Status > 599) {
			return fmt.Errorf("mock.routes[%d].status must be a valid HTTP status; got %d", i, r.Status)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		routePrefix := c.Server.RoutePrefix
		if routePrefix == "" {
			routePrefix = "/api"
		}
		for _, reserved := range []string{routePrefix, "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.RoutePrefix == "" {
		c.Server.RoutePrefix = "/api"
	}
	if c.Upstream.PathPrefix == "" {
		c.Upstream.PathPrefix = "/api"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Mock.Mode == "" {
		c.Mock.Mode = MockModeAuto
	}
	if c.Mock.PlatformEnv == "" {
		c.Mock.PlatformEnv = "VERCEL"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// mockEnabled resolves the mock fallback mode. In auto mode the fallback is
// only active for a production build that is not running on the deployment
// platform, i.e. a local production test.
func (c *Config) mockEnabled(getenv func(string) string) bool {
	switch strings.ToLower(c.Mock.Mode) {
	case MockModeOn:
		return true
	case MockModeOff:
		return false
	}
	if !strings.EqualFold(c.App.Environment, "production") {
		return false
	}
	return getenv(c.Mock.PlatformEnv) == ""
}

// HostAllowed reports whether host may be used as the upstream.
// An empty allow-list permits any host.
func (c *UpstreamConfig) HostAllowed(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return true
	}
	for _, h := range c.AllowedHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
