//go:build integration

// Package containers provides testcontainers-go helpers for integration
// testing against real service containers.
//
// All helpers are gated behind the "integration" build tag so they do
// not pull Docker-related dependencies into unit test builds. Use them
// exclusively from test files that carry the same tag:
//
//	//go:build integration
//
// [StartRedis] starts a Redis 7 container for session store tests,
// [StartPostgres] a PostgreSQL 16 container for audit trail tests, and
// [StartMinIO] a MinIO container for object storage tests. Each Start*
// function returns a *Result struct holding the container handle and
// the connection details the corresponding client needs; the caller
// terminates the container when done:
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
package containers

import (
	"context"
	"fmt"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// ===========================================================================
// PostgreSQL
// ===========================================================================

// DefaultPostgresImage is the container image used for PostgreSQL
// integration tests. The Alpine variant keeps image size and startup
// time down.
const DefaultPostgresImage = "docker.io/postgres:16-alpine"

// DefaultPostgresDatabase is the database created inside the container.
const DefaultPostgresDatabase = "lakegate_test"

// DefaultPostgresUser is the superuser for the test container.
const DefaultPostgresUser = "testuser"

// DefaultPostgresPassword is a deliberately weak credential suitable
// only for ephemeral test containers.
const DefaultPostgresPassword = "testpassword"

// PostgresResult holds a started PostgreSQL container and its connection
// string. ConnString includes sslmode=disable because testcontainers
// expose PostgreSQL on localhost without TLS.
type PostgresResult struct {
	// Container is the started PostgreSQL testcontainer.
	Container *tcpostgres.PostgresContainer

	// ConnString is a URI-format connection string ready for
	// [postgres.Config.URI].
	ConnString string
}

// StartPostgres starts a PostgreSQL 16 container and returns its handle
// and connection string. The caller must terminate the container when
// done.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get connection string: %w", err)
	}

	return &PostgresResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}

// ===========================================================================
// Redis
// ===========================================================================

// DefaultRedisImage is the container image used for Redis integration
// tests.
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult holds a started Redis container and its connection string
// in URI format (e.g. "redis://localhost:55679/0").
type RedisResult struct {
	// Container is the started Redis testcontainer.
	Container *tcredis.RedisContainer

	// ConnString is a Redis URI ready for [redis.Config.URI].
	ConnString string
}

// StartRedis starts a Redis 7 container with no authentication and
// returns its handle and connection string. The caller must terminate
// the container when done.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}

	return &RedisResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}

// ===========================================================================
// MinIO
// ===========================================================================

// DefaultMinIOImage is the container image used for MinIO integration
// tests.
const DefaultMinIOImage = "docker.io/minio/minio:latest"

// DefaultMinIOAccessKey is the root access key for the test container.
const DefaultMinIOAccessKey = "minioadmin"

// DefaultMinIOSecretKey is the root secret key for the test container.
const DefaultMinIOSecretKey = "minioadmin"

// MinIOResult holds a started MinIO container and the connection
// details needed to reach it.
type MinIOResult struct {
	// Container is the started MinIO testcontainer.
	Container *tcminio.MinioContainer

	// Endpoint is the MinIO API endpoint (e.g. "localhost:55680").
	Endpoint string

	// AccessKey is the root access key.
	AccessKey string

	// SecretKey is the root secret key.
	SecretKey string
}

// StartMinIO starts a MinIO container and returns its handle, endpoint,
// and root credentials. The caller must terminate the container when
// done.
func StartMinIO(ctx context.Context) (*MinIOResult, error) {
	container, err := tcminio.Run(ctx,
		DefaultMinIOImage,
		tcminio.WithUsername(DefaultMinIOAccessKey),
		tcminio.WithPassword(DefaultMinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start minio container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get minio connection string: %w", err)
	}

	return &MinIOResult{
		Container: container,
		Endpoint:  connStr,
		AccessKey: DefaultMinIOAccessKey,
		SecretKey: DefaultMinIOSecretKey,
	}, nil
}
