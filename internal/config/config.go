// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cal-edge/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the gateway itself and never proxied.
var reservedRoutes = []string{"/healthz", "/edge"}

// DefaultRoutes is the route pattern list the middleware chain runs for.
var DefaultRoutes = []string{
	"/:path*/embed",
	"/api/auth/signup",
	"/api/trpc/:path*",
	"/login",
	"/auth/login",
	"/future/auth/login",
	"/future/auth/logout",
	"/apps/routing_forms/:path*",
	"/event-types",
	"/future/event-types/",
	"/settings/admin/:path*",
	"/future/settings/admin/:path*",
	"/apps/installed/:category/",
	"/future/apps/installed/:category/",
	"/apps/:slug/",
	"/future/apps/:slug/",
	"/apps/:slug/setup/",
	"/future/apps/:slug/setup/",
	"/apps/categories/",
	"/future/apps/categories/",
	"/apps/categories/:category/",
	"/future/apps/categories/:category/",
	"/workflows/:path*",
	"/future/workflows/:path*",
	"/settings/teams/:path*",
	"/future/settings/teams/:path*",
	"/getting-started/:step/",
	"/future/getting-started/:step/",
	"/apps",
	"/future/apps",
	"/bookings/:status/",
	"/future/bookings/:status/",
	"/video/:path*",
	"/future/video/:path*",
	"/teams",
	"/future/teams/",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config           string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host             string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port             int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel         string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	AllowedHostnames string `kong:"help='Comma-separated CORS hostname allow-list (overrides config).',env='ALLOWED_HOSTNAMES'"`
	CSPPolicy        string `kong:"name='csp-policy',help='Content-Security-Policy template; {nonce} is replaced per request.',env='CSP_POLICY'"`
	WebAppURL        string `kong:"name='webapp-url',help='Public web app base URL (overrides config).',env='NEXT_PUBLIC_WEBAPP_URL'"`
	LicenseKey       string `kong:"help='License key (overrides config and storage).',env='CALCOM_LICENSE_KEY'"`
	SignatureToken   string `kong:"help='Signing secret for license API requests.',env='CAL_SIGNATURE_TOKEN'"`
	E2E              bool   `kong:"name='e2e',help='Run in end-to-end test mode.',env='NEXT_PUBLIC_IS_E2E'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	App      AppConfig      `toml:"app"`
	CORS     CORSConfig     `toml:"cors"`
	CSP      CSPConfig      `toml:"csp"`
	Edge     EdgeConfig     `toml:"edge"`
	Flags    FlagsConfig    `toml:"flags"`
	License  LicenseConfig  `toml:"license"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig points at the web application the gateway fronts.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	PreserveHost    bool   `toml:"preserve_host"` // send the inbound Host header instead of the upstream's
}

// AppConfig holds settings shared with the web application.
type AppConfig struct {
	WebAppURL string `toml:"webapp_url"`
	E2E       bool   `toml:"e2e"`
}

// CORSConfig holds the raw origin allow-list. The string is parsed by the edge package.
type CORSConfig struct {
	AllowedHostnames string `toml:"allowed_hostnames"`
}

// CSPConfig holds the Content-Security-Policy template. Empty means not opted in.
type CSPConfig struct {
	Policy string `toml:"policy"`
}

// EdgeConfig controls the request middleware chain.
type EdgeConfig struct {
	Routes         []string `toml:"routes"`
	TimezoneHeader string   `toml:"timezone_header"`
	SessionCookie  string   `toml:"session_cookie"`
	Locales        []string `toml:"locales"`
	DefaultLocale  string   `toml:"default_locale"`
}

// FlagsConfig selects the feature flag backend.
type FlagsConfig struct {
	Backend   string          `toml:"backend"`    // memory | redis | file
	TimeoutMS int             `toml:"timeout_ms"` // per-lookup deadline, any backend
	Values    map[string]bool `toml:"values"`
	Redis     RedisConfig     `toml:"redis"`
	File      FileConfig      `toml:"file"`
}

// RedisConfig holds Redis flag store settings.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	Prefix    string `toml:"prefix"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// FileConfig holds YAML flag file settings.
type FileConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// LicenseConfig holds license API settings.
type LicenseConfig struct {
	Key             string `toml:"key"`
	PrivateAPIURL   string `toml:"private_api_url"`
	CheckURL        string `toml:"check_url"`
	SignatureToken  string `toml:"signature_token"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	TimeoutMS       int    `toml:"timeout_ms"`
	PurgeSchedule   string `toml:"purge_schedule"`
}

// StorageConfig selects the database the gateway reads application data from.
type StorageConfig struct {
	Driver  string `toml:"driver"` // sqlite | postgres
	DSN     string `toml:"dsn"`
	Migrate bool   `toml:"migrate"`
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
// /etc/cal-edge/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
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
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.AllowedHostnames != "" {
		c.CORS.AllowedHostnames = cli.AllowedHostnames
	}
	if cli.CSPPolicy != "" {
		c.CSP.Policy = cli.CSPPolicy
	}
	if cli.WebAppURL != "" {
		c.App.WebAppURL = cli.WebAppURL
	}
	if cli.LicenseKey != "" {
		c.License.Key = cli.LicenseKey
	}
	if cli.SignatureToken != "" {
		c.License.SignatureToken = cli.SignatureToken
	}
	if cli.E2E {
		c.App.E2E = true
	}
}

func (c *Config) validate() error {
	// Upstream URL: required, http or https.
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute http(s) URL; got %q", c.Upstream.BaseURL)
	}
	if c.App.WebAppURL != "" {
		w, err := url.Parse(c.App.WebAppURL)
		if err != nil || w.Host == "" {
			return fmt.Errorf("app.webapp_url must be an absolute URL; got %q", c.App.WebAppURL)
		}
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
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.License.CacheTTLSeconds < 0 {
		return fmt.Errorf("license.cache_ttl_seconds must be non-negative; got %d", c.License.CacheTTLSeconds)
	}
	if c.License.TimeoutMS < 0 {
		return fmt.Errorf("license.timeout_ms must be non-negative; got %d", c.License.TimeoutMS)
	}

	// Flags backend.
	switch strings.ToLower(c.Flags.Backend) {
	case "", "memory":
	case "redis":
		if c.Flags.Redis.Addr == "" {
			return fmt.Errorf("flags.redis.addr is required when flags.backend is redis")
		}
	case "file":
		if c.Flags.File.Path == "" {
			return fmt.Errorf("flags.file.path is required when flags.backend is file")
		}
	default:
		return fmt.Errorf("flags.backend must be one of: memory, redis, file; got %q", c.Flags.Backend)
	}

	// Storage driver.
	switch strings.ToLower(c.Storage.Driver) {
	case "", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres; got %q", c.Storage.Driver)
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
		for _, reserved := range reservedRoutes {
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
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if len(c.Edge.Routes) == 0 {
		c.Edge.Routes = DefaultRoutes
	}
	if c.Edge.TimezoneHeader == "" {
		c.Edge.TimezoneHeader = "X-Vercel-Ip-Timezone"
	}
	if c.Edge.SessionCookie == "" {
		c.Edge.SessionCookie = "next-auth.session-token"
	}
	if c.Edge.DefaultLocale == "" {
		c.Edge.DefaultLocale = "en"
	}
	if len(c.Edge.Locales) == 0 {
		c.Edge.Locales = []string{c.Edge.DefaultLocale}
	}
	c.Flags.Backend = strings.ToLower(c.Flags.Backend)
	if c.Flags.Backend == "" {
		c.Flags.Backend = "memory"
	}
	if c.Flags.Redis.Prefix == "" {
		c.Flags.Redis.Prefix = "cal-edge:flags:"
	}
	if c.Flags.TimeoutMS == 0 {
		c.Flags.TimeoutMS = 250
	}
	if c.Flags.Redis.TimeoutMS == 0 {
		c.Flags.Redis.TimeoutMS = 250
	}
	if c.License.PrivateAPIURL == "" {
		c.License.PrivateAPIURL = "https://goblin.cal.com"
	}
	if c.License.CheckURL == "" {
		c.License.CheckURL = "https://console.cal.com/api/license"
	}
	if c.License.CacheTTLSeconds == 0 {
		c.License.CacheTTLSeconds = 86400 // 24 hours
	}
	if c.License.TimeoutMS == 0 {
		c.License.TimeoutMS = 2000
	}
	if c.License.PurgeSchedule == "" {
		c.License.PurgeSchedule = "@hourly"
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "cal-edge.db"
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
// The file may carry the license key and signing secret.
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
