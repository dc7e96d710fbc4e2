// Package redis provides the Redis client used by LakeGate for its
// distributed session cache, with OpenTelemetry tracing and structured
// error handling.
//
// The client wraps go-redis (github.com/redis/go-redis/v9) and adds
// cross-cutting concerns (tracing, error classification) transparently.
// Connection pooling, reconnection, and retry are handled internally by
// go-redis.
//
// Create a client with [NewClient] for production use:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret(os.Getenv("REDIS_PASSWORD"))
//	client, err := redis.NewClient(ctx, *cfg)
//
// or inject a mock with [NewFromClient] for testing.
//
// All operations create OpenTelemetry spans with standard database
// semantic attributes. Statements recorded in spans are truncated so
// session payloads never leak into telemetry.
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen bounds the db.statement attribute recorded on
// trace spans. Session records can carry claim material, so statements
// are cut well before any value content.
const maxStatementTruncateLen = 100

// Default connection settings for a LakeGate deployment where Redis runs
// behind a Kubernetes Service.
const (
	// DefaultHost is the in-cluster DNS name of the session cache.
	DefaultHost = "redis.lakegate.svc.cluster.local"

	// DefaultPort is the standard Redis port.
	DefaultPort = 6379

	// DefaultDB is the database index reserved for session records.
	DefaultDB = 0

	// DefaultPoolSize is the maximum number of pooled connections.
	DefaultPoolSize = 25

	// DefaultMinIdleConns keeps warm connections available for bursts.
	DefaultMinIdleConns = 5

	// DefaultMaxRetries is the retry budget for transient failures.
	DefaultMaxRetries = 3

	DefaultDialTimeout  = 10 * time.Second
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// DefaultHealthTimeout caps a health check ping when the caller's
	// context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string type that prevents accidental logging of sensitive
// values such as Redis passwords. Its [Secret.String] and
// [Secret.GoString] methods return a redacted placeholder. Use
// [Secret.Value] to retrieve the actual value.
type Secret string

// redacted is the placeholder returned by Secret's string methods.
const redacted = "[REDACTED]"

// String returns "[REDACTED]" to prevent accidental logging.
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" for fmt.Sprintf("%#v", secret) safety.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the actual secret string. Avoid logging or serializing
// the returned value.
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler, returning "[REDACTED]"
// so the secret never appears in JSON or YAML output.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the Redis connection configuration. When [Config.URI] is
// set it takes precedence over the individual Host, Port, DB, and
// Password fields. Both "redis://" and "rediss://" (TLS) schemes are
// supported.
type Config struct {
	// URI is a Redis connection string, e.g.
	// "redis://:password@host:6379/0". When set, Host, Port, DB, and
	// Password are ignored.
	URI string `json:"uri,omitempty" yaml:"uri" env:"REDIS_URI"`

	// Host is the Redis server hostname or IP address.
	Host string `json:"host,omitempty" yaml:"host" env:"REDIS_HOST"`

	// Port is the Redis server port.
	Port int `json:"port,omitempty" yaml:"port" env:"REDIS_PORT"`

	// DB is the Redis database index.
	DB int `json:"db" yaml:"db" env:"REDIS_DB"`

	// Password is the Redis password. The [Secret] type keeps it out of
	// logs and serialized output.
	Password Secret `json:"-" yaml:"-" env:"REDIS_PASSWORD"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `json:"pool_size,omitempty" yaml:"pool_size" env:"REDIS_POOL_SIZE"`

	// MinIdleConns is the minimum number of idle pooled connections.
	MinIdleConns int `json:"min_idle_conns,omitempty" yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS"`

	// MaxRetries is the retry budget per command. -1 disables retries.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries" env:"REDIS_MAX_RETRIES"`

	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`

	// TLSEnabled enables TLS for structured configuration. A URI with
	// the "rediss://" scheme enables TLS automatically.
	TLSEnabled bool `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"REDIS_TLS_ENABLED"`
}

// DefaultConfig returns a Config with values suitable for an in-cluster
// LakeGate deployment. Override fields as needed before [NewClient].
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate checks the configuration and applies defaults for zero-valued
// pool and timeout fields. When URI is set the structured fields are not
// validated since the URI takes precedence.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme %q is not supported", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		return fmt.Errorf("redis: config host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port %d is out of range", c.Port)
	}
	if c.DB < 0 {
		return fmt.Errorf("redis: config db index must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns < 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement shortens a statement for span attributes.
func truncateStatement(statement string) string {
	if len(statement) <= maxStatementTruncateLen {
		return statement
	}
	return statement[:maxStatementTruncateLen] + "..."
}
