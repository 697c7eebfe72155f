// Package config loads server configuration from environment variables,
// applies defaults and validates the result before anything is served.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Settings Settings
	Export   ExportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 127.0.0.1)
	Host string `env:"SERVER_HOST" default:"127.0.0.1"`

	// Port is the port to listen on (default: 8001)
	Port int `env:"SERVER_PORT" default:"8001"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 so long CSV streams are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including export drain (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// PostgresConfig describes an optional PostgreSQL database served next to
// the SQLite files. It is always mutable.
type PostgresConfig struct {
	// URL is the connection string. Empty disables PostgreSQL.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Name is the database name used in URLs (default: postgres)
	Name string `env:"DB_NAME" default:"postgres"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Settings are the named serving options. Each can also be overridden on
// the command line with --setting name:value.
type Settings struct {
	HashURLs            bool `env:"DATASERVE_HASH_URLS" default:"false" setting:"hash_urls"`
	DefaultCacheTTL     int  `env:"DATASERVE_DEFAULT_CACHE_TTL" default:"5" setting:"default_cache_ttl"`
	DefaultCacheTTLHash int  `env:"DATASERVE_DEFAULT_CACHE_TTL_HASHED" default:"31536000" setting:"default_cache_ttl_hashed"`
	CacheHeaders        bool `env:"DATASERVE_CACHE_HEADERS" default:"true" setting:"cache_headers"`
	CORS                bool `env:"DATASERVE_CORS" default:"false" setting:"cors"`
	AllowCSVStream      bool `env:"DATASERVE_ALLOW_CSV_STREAM" default:"true" setting:"allow_csv_stream"`
	MaxCSVMB            int  `env:"DATASERVE_MAX_CSV_MB" default:"100" setting:"max_csv_mb"`
	SQLTimeLimitMS      int  `env:"DATASERVE_SQL_TIME_LIMIT_MS" default:"1000" setting:"sql_time_limit_ms"`
	DefaultPageSize     int  `env:"DATASERVE_DEFAULT_PAGE_SIZE" default:"100" setting:"default_page_size"`
	MaxReturnedRows     int  `env:"DATASERVE_MAX_RETURNED_ROWS" default:"1000" setting:"max_returned_rows"`
	AllowSQL            bool `env:"DATASERVE_ALLOW_SQL" default:"true" setting:"allow_sql"`
	AllowDownload       bool `env:"DATASERVE_ALLOW_DOWNLOAD" default:"true" setting:"allow_download"`
	TemplateDebug       bool `env:"DATASERVE_TEMPLATE_DEBUG" default:"false" setting:"template_debug"`
}

// SQLTimeLimit returns sql_time_limit_ms as a duration.
func (s *Settings) SQLTimeLimit() time.Duration {
	return time.Duration(s.SQLTimeLimitMS) * time.Millisecond
}

// MaxCSVBytes returns max_csv_mb in bytes. Zero means unlimited.
func (s *Settings) MaxCSVBytes() int64 {
	return int64(s.MaxCSVMB) * 1024 * 1024
}

// ExportConfig bounds concurrent "stream all rows" exports.
type ExportConfig struct {
	// MaxConcurrent is the number of full exports allowed at once (default: 4)
	MaxConcurrent int `env:"EXPORT_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for an export slot (default: 5s)
	MaxWaitTime time.Duration `env:"EXPORT_MAX_WAIT_TIME" default:"5s"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the sustained rate per IP (default: 600)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"600"`

	// Burst is how many requests may arrive at once (default: 60)
	Burst int `env:"RATE_LIMIT_BURST" default:"60"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
