package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lakegate/lakegate-core/pkg/auth"
	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package.
const tracerName = "github.com/lakegate/lakegate-core/pkg/clients/minio"

// ObjectStore is the narrow storage surface the gateway's data-plane
// operations rely on. It is satisfied by [*minio.Client] and by mocks
// injected through [NewFromStore]. Method signatures follow the minio-go
// v7 API exactly so [*minio.Client] satisfies the interface without
// adaptation.
type ObjectStore interface {
	// PutObject uploads an object to a bucket.
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)

	// GetObject retrieves an object from a bucket. The returned
	// *minio.Object implements io.ReadCloser and must be closed.
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)

	// RemoveObject deletes an object from a bucket.
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error

	// StatObject retrieves object metadata without downloading it.
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)

	// ListObjects returns a channel of objects matching opts.
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo

	// ListBuckets lists all buckets visible to the credentials.
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)

	// MakeBucket creates a new bucket on the server.
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error

	// BucketExists checks whether a bucket exists on the server.
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// Compile-time interface compliance check.
var _ ObjectStore = (*minio.Client)(nil)

// Client is a MinIO object storage client with OpenTelemetry tracing and
// structured error handling. It wraps an [ObjectStore] (typically
// [*minio.Client]).
//
// A Client is safe for concurrent use by multiple goroutines. Clients
// built from exchanged role credentials are cheap to create per request;
// the gateway-identity client from [NewClient] should be created once
// and shared.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient creates a MinIO client authenticated as the gateway itself.
// It validates the configuration, creates the underlying minio.Client,
// and verifies connectivity with a BucketExists probe.
//
// Error codes returned:
//   - [lgerr.CodeValidation]: invalid configuration
//   - [lgerr.CodeUnavailableDependency]: cannot reach MinIO
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, lgerr.Wrap(err, lgerr.CodeValidation,
			"minio: invalid configuration")
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, lgerr.Wrap(err, lgerr.CodeInternal,
			"minio: failed to create client")
	}

	// The probe bucket does not need to exist; a successful API call
	// (even returning false) confirms reachability and credentials.
	healthBucket := cfg.HealthBucket
	if healthBucket == "" {
		healthBucket = "health-check-probe"
	}
	if _, err := minioClient.BucketExists(ctx, healthBucket); err != nil {
		return nil, lgerr.Wrap(err, lgerr.CodeUnavailableDependency,
			"minio: failed to connect to server")
	}

	return &Client{
		store:  minioClient,
		config: &cfg,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// NewClientWithCredentials creates a MinIO client authenticated with
// short-lived exchanged role credentials. This is how a request that has
// assumed an access role talks to the object store: the resulting client
// carries exactly the role's grants and nothing of the gateway's own
// identity.
//
// No connectivity probe is performed; these clients are built on the
// request path where an extra round trip per request is unacceptable.
func NewClientWithCredentials(ctx context.Context, endpoint string, creds *auth.ShortLivedCredentials, useSSL bool) (*Client, error) {
	if creds == nil || creds.AccessKey == "" {
		return nil, lgerr.New(lgerr.CodeValidation, "minio: credentials must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, lgerr.Wrap(err, lgerr.CodeValidation, "minio: context already done")
	}
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			creds.AccessKey,
			creds.SecretKey.Value(),
			creds.SessionToken.Value(),
		),
		Secure: useSSL,
	})
	if err != nil {
		return nil, lgerr.Wrap(err, lgerr.CodeInternal,
			"minio: failed to create client")
	}
	return &Client{
		store:  minioClient,
		config: &Config{Endpoint: endpoint, UseSSL: useSSL},
		tracer: otel.Tracer(tracerName),
	}, nil
}

// NewFromStore creates a Client with a pre-existing [ObjectStore].
// Intended for testing with mock stores. The cfg parameter is stored but
// not validated; pass nil for a zero-value config in tests.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// PutObject uploads an object to a bucket.
//
// Errors are wrapped as [*lgerr.Error]:
//   - [lgerr.CodeTimeoutDependency] if the context deadline is exceeded
//   - [lgerr.CodeInternalDatabase] for other storage errors
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	ctx, span := c.startSpan(ctx, "PutObject", bucketName, fmt.Sprintf("PUT %s/%s", bucketName, objectName))
	info, err := c.store.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
	finishSpan(span, err)
	if err != nil {
		return info, wrapError(err, "minio: put object failed")
	}
	return info, nil
}

// GetObject retrieves an object from a bucket. The returned object must
// be closed by the caller. Read errors surface during reading, not here.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	ctx, span := c.startSpan(ctx, "GetObject", bucketName, fmt.Sprintf("GET %s/%s", bucketName, objectName))
	obj, err := c.store.GetObject(ctx, bucketName, objectName, opts)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: get object failed")
	}
	return obj, nil
}

// RemoveObject deletes an object from a bucket.
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	ctx, span := c.startSpan(ctx, "RemoveObject", bucketName, fmt.Sprintf("DELETE %s/%s", bucketName, objectName))
	err := c.store.RemoveObject(ctx, bucketName, objectName, opts)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: remove object failed")
	}
	return nil
}

// StatObject retrieves object metadata without downloading it.
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	ctx, span := c.startSpan(ctx, "StatObject", bucketName, fmt.Sprintf("STAT %s/%s", bucketName, objectName))
	info, err := c.store.StatObject(ctx, bucketName, objectName, opts)
	finishSpan(span, err)
	if err != nil {
		return info, wrapError(err, "minio: stat object failed")
	}
	return info, nil
}

// ListObjects returns a channel of objects in a bucket matching opts.
// Errors are delivered through the channel as entries with a non-nil
// Err field, per the minio-go convention.
func (c *Client) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ctx, span := c.startSpan(ctx, "ListObjects", bucketName, fmt.Sprintf("LIST %s/%s", bucketName, opts.Prefix))
	defer span.End()
	return c.store.ListObjects(ctx, bucketName, opts)
}

// ListBuckets lists all buckets visible to the client's credentials.
func (c *Client) ListBuckets(ctx context.Context) ([]minio.BucketInfo, error) {
	ctx, span := c.startSpan(ctx, "ListBuckets", "", "LIST BUCKETS")
	buckets, err := c.store.ListBuckets(ctx)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: list buckets failed")
	}
	return buckets, nil
}

// MakeBucket creates a new bucket on the server.
func (c *Client) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	ctx, span := c.startSpan(ctx, "MakeBucket", bucketName, fmt.Sprintf("CREATE BUCKET %s", bucketName))
	err := c.store.MakeBucket(ctx, bucketName, opts)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: make bucket failed")
	}
	return nil
}

// BucketExists checks whether a bucket exists on the server.
func (c *Client) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	ctx, span := c.startSpan(ctx, "BucketExists", bucketName, fmt.Sprintf("HEAD %s", bucketName))
	exists, err := c.store.BucketExists(ctx, bucketName)
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "minio: bucket exists check failed")
	}
	return exists, nil
}

// Health verifies that the MinIO server is reachable, applying
// [DefaultHealthTimeout] if the context has no deadline. Designed for
// readiness probes.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "", "HEAD health-check-probe")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	healthBucket := c.config.HealthBucket
	if healthBucket == "" {
		healthBucket = "health-check-probe"
	}
	_, err := c.store.BucketExists(ctx, healthBucket)
	finishSpan(span, err)
	if err != nil {
		return lgerr.Wrap(err, lgerr.CodeUnavailableDependency,
			"minio: health check failed")
	}
	return nil
}

// Store returns the underlying [ObjectStore] for operations not covered
// by the wrapper methods.
func (c *Client) Store() ObjectStore {
	return c.store
}

// startSpan creates a span with standard semantic attributes for object
// storage operations.
func (c *Client) startSpan(ctx context.Context, operationName, bucketName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucketName),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

// finishSpan records an error on the span (if any) and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError converts a storage error to a platform [*lgerr.Error].
func wrapError(err error, message string) *lgerr.Error {
	if err == nil {
		return nil
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket":
			return lgerr.Wrap(err, lgerr.CodeNotFound, message)
		case "AccessDenied":
			return lgerr.Wrap(err, lgerr.CodeAccessDenied, message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return lgerr.Wrap(err, lgerr.CodeTimeoutDependency, message)
	}
	return lgerr.Wrap(err, lgerr.CodeInternalDatabase, message)
}
