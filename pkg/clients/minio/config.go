// Package minio provides the S3-compatible object storage client used by
// LakeGate data-plane operations, with OpenTelemetry tracing and
// structured error handling.
//
// The client wraps minio-go (github.com/minio/minio-go/v7). MinIO uses
// stateless HTTP connections, so unlike the database clients there is no
// pool to manage.
//
// Create a client with the gateway's own static credentials via
// [NewClient], or with short-lived exchanged role credentials via
// [NewClientWithCredentials]:
//
//	creds, err := exchange.Activate(ctx, subject, role)
//	if err != nil {
//	    return err
//	}
//	client, err := minio.NewClientWithCredentials(ctx, endpoint, creds)
//
// For testing, inject a mock store with [NewFromStore].
package minio

import (
	"errors"
	"time"
)

// maxStatementTruncateLen bounds the db.statement attribute recorded on
// trace spans.
const maxStatementTruncateLen = 100

// Default settings for a LakeGate deployment where MinIO runs behind a
// Kubernetes Service.
const (
	// DefaultEndpoint is the in-cluster DNS name of the object store.
	DefaultEndpoint = "minio.lakegate.svc.cluster.local:9000"

	// DefaultRegion is the S3 region presented by MinIO.
	DefaultRegion = "us-east-1"

	// DefaultUseSSL is false because the service mesh provides mTLS at
	// the network layer. Internet-facing deployments must set UseSSL.
	DefaultUseSSL = false

	// DefaultHealthTimeout caps a health probe when the caller's
	// context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string type that prevents accidental logging of sensitive
// values such as MinIO secret keys. Use [Secret.Value] to retrieve the
// actual value.
type Secret string

const redacted = "[REDACTED]"

// String returns "[REDACTED]" to prevent accidental logging.
func (s Secret) String() string {
	return redacted
}

// GoString returns "[REDACTED]" for fmt.Sprintf("%#v", secret) safety.
func (s Secret) GoString() string {
	return redacted
}

// Value returns the actual secret string.
func (s Secret) Value() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler, returning "[REDACTED]".
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config holds the MinIO connection configuration for the gateway's own
// identity. Per-request role credentials bypass this config and go
// through [NewClientWithCredentials] instead.
type Config struct {
	// Endpoint is the MinIO server hostname and port.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint" env:"MINIO_ENDPOINT"`

	// AccessKey is the MinIO access key for authentication.
	AccessKey string `json:"access_key,omitempty" yaml:"access_key" env:"MINIO_ACCESS_KEY"`

	// SecretKey is the MinIO secret key. The [Secret] type keeps it out
	// of logs and serialized output.
	SecretKey Secret `json:"-" yaml:"-" env:"MINIO_SECRET_KEY"`

	// Region is the S3 region for the MinIO server.
	Region string `json:"region,omitempty" yaml:"region" env:"MINIO_REGION"`

	// UseSSL enables TLS for the connection to MinIO.
	UseSSL bool `json:"use_ssl,omitempty" yaml:"use_ssl" env:"MINIO_USE_SSL"`

	// HealthBucket is the bucket name probed by health checks. When
	// empty a placeholder name is used; BucketExists tests connectivity
	// without requiring the bucket to exist.
	HealthBucket string `json:"health_bucket,omitempty" yaml:"health_bucket" env:"MINIO_HEALTH_BUCKET"`
}

// DefaultConfig returns a Config with values suitable for an in-cluster
// LakeGate deployment. Override fields as needed before [NewClient].
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
		UseSSL:   DefaultUseSSL,
	}
}

// Validate checks the configuration and applies the region default.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	return nil
}

// truncateStatement shortens an operation description for span
// attributes.
func truncateStatement(s string) string {
	if len(s) <= maxStatementTruncateLen {
		return s
	}
	return s[:maxStatementTruncateLen] + "..."
}
