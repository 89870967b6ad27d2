package pgbridge

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables consumed once by ResolveConfig.
const (
	EnvHost                  = "POSTGRES_HOST"
	EnvPort                  = "POSTGRES_PORT"
	EnvDatabase              = "POSTGRES_DB"
	EnvUser                  = "POSTGRES_USER"
	EnvPassword              = "POSTGRES_PASSWORD"
	EnvSSL                   = "POSTGRES_SSL"
	EnvSSLRejectUnauthorized = "POSTGRES_SSL_REJECT_UNAUTHORIZED"
	EnvConnectionTimeoutMs   = "POSTGRES_CONNECTION_TIMEOUT_MS"
	EnvQueryTimeoutMs        = "POSTGRES_QUERY_TIMEOUT_MS"
	EnvPoolMin               = "POSTGRES_POOL_MIN"
	EnvPoolMax               = "POSTGRES_POOL_MAX"
	EnvPoolIdleTimeoutMs     = "POSTGRES_POOL_IDLE_TIMEOUT_MS"
	EnvMaxRows               = "POSTGRES_MAX_ROWS"
)

const (
	defaultHost                = "localhost"
	defaultPort                = 5432
	defaultDatabase            = "postgres"
	defaultUser                = "postgres"
	defaultConnectionTimeoutMs = 10000
	defaultQueryTimeoutMs      = 30000
	defaultPoolMin             = 2
	defaultPoolMax             = 10
	defaultPoolIdleTimeoutMs   = 30000
	defaultMaxRows             = 1000
)

// DatabaseConfig is the resolved, typed configuration for the pool manager.
// It is built once by ResolveConfig and passed around by value.
type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	SSL                   bool
	SSLRejectUnauthorized bool

	ConnectionTimeout time.Duration
	QueryTimeout      time.Duration

	PoolMin         int
	PoolMax         int
	PoolIdleTimeout time.Duration

	MaxRows int
}

// ResolveConfig merges an optional connection URL with environment variables
// and defaults. Precedence per field: URL > environment > default.
// Malformed numeric environment values fall back to the default.
func ResolveConfig(connURL string) (DatabaseConfig, error) {
	cfg := DatabaseConfig{
		Host:                  envString(EnvHost, defaultHost),
		Port:                  envPositiveInt(EnvPort, defaultPort),
		Database:              envString(EnvDatabase, defaultDatabase),
		User:                  envString(EnvUser, defaultUser),
		Password:              os.Getenv(EnvPassword),
		SSL:                   envBool(EnvSSL, false),
		SSLRejectUnauthorized: envBool(EnvSSLRejectUnauthorized, true),
		ConnectionTimeout:     envMillis(EnvConnectionTimeoutMs, defaultConnectionTimeoutMs),
		QueryTimeout:          envMillis(EnvQueryTimeoutMs, defaultQueryTimeoutMs),
		PoolMin:               envPositiveInt(EnvPoolMin, defaultPoolMin),
		PoolMax:               envPositiveInt(EnvPoolMax, defaultPoolMax),
		PoolIdleTimeout:       envMillis(EnvPoolIdleTimeoutMs, defaultPoolIdleTimeoutMs),
		MaxRows:               envPositiveInt(EnvMaxRows, defaultMaxRows),
	}

	if strings.TrimSpace(connURL) != "" {
		if err := applyConnURL(&cfg, strings.TrimSpace(connURL)); err != nil {
			return DatabaseConfig{}, err
		}
	}

	if cfg.PoolMin > cfg.PoolMax {
		return DatabaseConfig{}, &ConfigError{
			Field:   "pool",
			Message: fmt.Sprintf("pool min (%d) must not exceed pool max (%d)", cfg.PoolMin, cfg.PoolMax),
		}
	}
	return cfg, nil
}

// applyConnURL overrides cfg with every field present in the URL.
func applyConnURL(cfg *DatabaseConfig, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Field: "connection url", Message: "malformed connection URL", Err: err}
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return &ConfigError{Field: "connection url", Message: fmt.Sprintf("unsupported scheme %q, expected postgres:// or postgresql://", u.Scheme)}
	}

	if host := u.Hostname(); host != "" {
		cfg.Host = host
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return &ConfigError{Field: "connection url", Message: fmt.Sprintf("invalid port %q", p), Err: err}
		}
		cfg.Port = port
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		cfg.Database = db
	}
	if u.User != nil {
		if name := u.User.Username(); name != "" {
			cfg.User = name
		}
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}

	switch strings.ToLower(u.Query().Get("sslmode")) {
	case "":
	case "disable":
		cfg.SSL = false
	case "verify-ca", "verify-full":
		cfg.SSL = true
		cfg.SSLRejectUnauthorized = true
	default:
		cfg.SSL = true
		cfg.SSLRejectUnauthorized = false
	}
	return nil
}

// sslMode maps the two SSL flags to a libpq sslmode.
func (c DatabaseConfig) sslMode() string {
	switch {
	case !c.SSL:
		return "disable"
	case c.SSLRejectUnauthorized:
		return "verify-full"
	default:
		return "require"
	}
}

// ConnString renders the config as a libpq keyword/value connection string.
func (c DatabaseConfig) ConnString() string {
	parts := []string{
		"host=" + quoteConnValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + quoteConnValue(c.Database),
		"user=" + quoteConnValue(c.User),
	}
	if c.Password != "" {
		parts = append(parts, "password="+quoteConnValue(c.Password))
	}
	parts = append(parts, "sslmode="+c.sslMode())
	if c.ConnectionTimeout > 0 {
		secs := int((c.ConnectionTimeout + time.Second - 1) / time.Second)
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}
	return strings.Join(parts, " ")
}

// Redacted returns a password-free description suitable for logs.
func (c DatabaseConfig) Redacted() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s", c.User, c.Host, c.Port, c.Database, c.sslMode())
}

// quoteConnValue quotes a keyword/value connection string value when needed.
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envPositiveInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envMillis(key string, def int) time.Duration {
	return time.Duration(envPositiveInt(key, def)) * time.Millisecond
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
