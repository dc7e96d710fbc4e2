package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// DefaultExchangeTimeout bounds a single upstream credential exchange.
const DefaultExchangeTimeout = 10 * time.Second

// DefaultFailureTTL is how long a failed exchange is remembered before
// the upstream broker is tried again for the same (subject, role). The
// short window absorbs retry storms from clients that immediately repeat
// a failing request without hiding a recovered broker for long.
const DefaultFailureTTL = 5 * time.Second

// CredentialBroker obtains short-lived credentials for a principal
// assuming an access role. Implementations talk to an upstream issuer
// (an STS endpoint, a vault, a cloud IAM API).
type CredentialBroker interface {
	// Assume exchanges the principal's identity for role-scoped
	// credentials. It must honor ctx cancellation.
	Assume(ctx context.Context, subject, role string) (*ShortLivedCredentials, error)
}

// CredentialBrokerFunc adapts a function to the [CredentialBroker]
// interface.
type CredentialBrokerFunc func(ctx context.Context, subject, role string) (*ShortLivedCredentials, error)

// Assume implements [CredentialBroker].
func (f CredentialBrokerFunc) Assume(ctx context.Context, subject, role string) (*ShortLivedCredentials, error) {
	return f(ctx, subject, role)
}

// exchangeKey identifies a cached exchange outcome.
type exchangeKey struct {
	subject string
	role    string
}

// exchangeEntry is either a live credential or a remembered failure,
// never both.
type exchangeEntry struct {
	creds    *ShortLivedCredentials
	err      *lgerr.Error
	failedAt time.Time
}

// ExchangeManagerConfig configures an [ExchangeManager].
type ExchangeManagerConfig struct {
	// Broker performs the upstream exchange. Required.
	Broker CredentialBroker

	// Timeout bounds each upstream call. Zero means
	// [DefaultExchangeTimeout].
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"EXCHANGE_TIMEOUT" envDefault:"10s"`

	// FailureTTL is the negative-cache window for failed exchanges.
	// Zero means [DefaultFailureTTL].
	FailureTTL time.Duration `json:"failure_ttl" yaml:"failure_ttl" env:"EXCHANGE_FAILURE_TTL" envDefault:"5s"`

	// Logger receives exchange failures. Nil means slog.Default.
	Logger *slog.Logger
}

// ExchangeManager caches role credentials per (subject, role) so a
// session that keeps using the same role pays for one upstream exchange,
// not one per request. Cached credentials are reused until they expire;
// requesting a role that is already active is a cheap cache hit.
//
// Failed exchanges are negatively cached for a short window and surface
// as [lgerr.CodeRoleAssumption] errors. A caller that abandons a request
// mid-exchange does not poison the cache: the late upstream result is
// discarded rather than stored.
//
// ExchangeManager is safe for concurrent use by multiple goroutines.
type ExchangeManager struct {
	broker     CredentialBroker
	timeout    time.Duration
	failureTTL time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu      sync.Mutex
	entries map[exchangeKey]*exchangeEntry
}

// NewExchangeManager creates an ExchangeManager from cfg.
func NewExchangeManager(cfg ExchangeManagerConfig) (*ExchangeManager, error) {
	if cfg.Broker == nil {
		return nil, lgerr.New(lgerr.CodeValidation, "auth: exchange manager requires a credential broker")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExchangeTimeout
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = DefaultFailureTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExchangeManager{
		broker:     cfg.Broker,
		timeout:    cfg.Timeout,
		failureTTL: cfg.FailureTTL,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		entries:    make(map[exchangeKey]*exchangeEntry),
	}, nil
}

// Activate returns credentials for subject acting as role, exchanging
// with the upstream broker only when no live cached credentials exist.
//
// Error codes returned:
//   - [lgerr.CodeRoleAssumption]: the upstream exchange failed, or a
//     recent exchange for the same pair failed and the failure window
//     has not elapsed
func (m *ExchangeManager) Activate(ctx context.Context, subject, role string) (*ShortLivedCredentials, error) {
	ctx, span := m.tracer.Start(ctx, "auth.ActivateRole",
		trace.WithAttributes(
			attribute.String("auth.subject", subject),
			attribute.String("auth.role", role),
		))
	defer span.End()

	key := exchangeKey{subject: subject, role: role}
	now := m.now()

	m.mu.Lock()
	if entry, ok := m.entries[key]; ok {
		if entry.creds != nil && !entry.creds.Expired(now) {
			m.mu.Unlock()
			span.SetAttributes(attribute.Bool("auth.exchange_cached", true))
			return entry.creds, nil
		}
		if entry.err != nil && now.Sub(entry.failedAt) < m.failureTTL {
			m.mu.Unlock()
			finishSpan(span, entry.err)
			return nil, entry.err
		}
		// Expired credentials or an elapsed failure window; fall
		// through to a fresh exchange.
		delete(m.entries, key)
	}
	m.mu.Unlock()

	creds, err := m.exchange(ctx, subject, role)
	if err != nil {
		if ctx.Err() != nil {
			// The caller went away. Nothing is cached: the failure
			// says nothing about the broker, and a late success
			// belongs to no one.
			finishSpan(span, err)
			return nil, err
		}
		failed := lgerr.RoleAssumptionFailed(role, err)
		m.logger.Warn("credential exchange failed",
			"subject", subject,
			"role", role,
			"error", err,
		)
		m.mu.Lock()
		m.entries[key] = &exchangeEntry{err: failed, failedAt: m.now()}
		m.mu.Unlock()
		finishSpan(span, failed)
		return nil, failed
	}

	m.mu.Lock()
	m.entries[key] = &exchangeEntry{creds: creds}
	m.mu.Unlock()
	return creds, nil
}

// exchange runs the broker call under the manager's timeout, detached
// into a goroutine so an abandoned caller stops waiting immediately. The
// goroutine's eventual result goes to a buffered channel and is simply
// dropped when nobody is listening anymore.
func (m *ExchangeManager) exchange(ctx context.Context, subject, role string) (*ShortLivedCredentials, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		creds *ShortLivedCredentials
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		creds, err := m.broker.Assume(ctx, subject, role)
		ch <- result{creds: creds, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, lgerr.Wrapf(ctx.Err(), lgerr.CodeRoleAssumption,
			"auth: credential exchange for role %q abandoned", role)
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.creds == nil || res.creds.AccessKey == "" {
			return nil, fmt.Errorf("auth: broker returned empty credentials")
		}
		return res.creds, nil
	}
}

// Active returns the live cached credentials for (subject, role), or nil
// when none exist. It never triggers an exchange.
func (m *ExchangeManager) Active(subject, role string) *ShortLivedCredentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[exchangeKey{subject: subject, role: role}]
	if !ok || entry.creds == nil || entry.creds.Expired(m.now()) {
		return nil
	}
	return entry.creds
}

// Invalidate drops any cached outcome for (subject, role). The next
// Activate performs a fresh exchange.
func (m *ExchangeManager) Invalidate(subject, role string) {
	m.mu.Lock()
	delete(m.entries, exchangeKey{subject: subject, role: role})
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// MinIO STS broker
// ---------------------------------------------------------------------------

// MinioSTSBrokerConfig configures a [MinioSTSBroker].
type MinioSTSBrokerConfig struct {
	// STSEndpoint is the MinIO STS endpoint URL, e.g.
	// "https://minio.lakegate.svc.cluster.local:9000".
	STSEndpoint string `json:"sts_endpoint" yaml:"sts_endpoint" env:"MINIO_STS_ENDPOINT" required:"true"`

	// AccessKey and SecretKey authenticate the gateway itself to the
	// STS endpoint.
	AccessKey string `json:"access_key" yaml:"access_key" env:"MINIO_ACCESS_KEY" required:"true"`
	SecretKey Secret `json:"-" yaml:"-" env:"MINIO_SECRET_KEY" required:"true"`

	// DurationSeconds is the requested credential lifetime. Zero lets
	// the server choose.
	DurationSeconds int `json:"duration_seconds,omitempty" yaml:"duration_seconds" env:"MINIO_STS_DURATION_SECONDS"`
}

// MinioSTSBroker exchanges identities for short-lived MinIO credentials
// via the AssumeRole STS API. The assumed role name is passed through as
// the role session name so MinIO audit logs show which access role a
// credential was minted for.
type MinioSTSBroker struct {
	config MinioSTSBrokerConfig
}

// NewMinioSTSBroker creates a broker from cfg.
func NewMinioSTSBroker(cfg MinioSTSBrokerConfig) (*MinioSTSBroker, error) {
	if cfg.STSEndpoint == "" {
		return nil, lgerr.New(lgerr.CodeValidation, "auth: sts broker requires an endpoint")
	}
	if cfg.AccessKey == "" || cfg.SecretKey.Value() == "" {
		return nil, lgerr.New(lgerr.CodeValidation, "auth: sts broker requires gateway credentials")
	}
	return &MinioSTSBroker{config: cfg}, nil
}

// Assume implements [CredentialBroker]. The STS request runs on an HTTP
// client bound to ctx, so an abandoned exchange aborts the in-flight
// request instead of leaking it until the server responds.
func (b *MinioSTSBroker) Assume(ctx context.Context, subject, role string) (*ShortLivedCredentials, error) {
	opts := credentials.STSAssumeRoleOptions{
		AccessKey:       b.config.AccessKey,
		SecretKey:       b.config.SecretKey.Value(),
		RoleARN:         fmt.Sprintf("arn:minio:iam:::role/%s", role),
		RoleSessionName: fmt.Sprintf("%s@%s", subject, role),
	}
	if b.config.DurationSeconds > 0 {
		opts.DurationSeconds = b.config.DurationSeconds
	}
	provider := credentials.New(&credentials.STSAssumeRole{
		Client:      &http.Client{Transport: ctxBoundTransport{ctx: ctx}},
		STSEndpoint: b.config.STSEndpoint,
		Options:     opts,
	})
	value, err := provider.Get()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, lgerr.Wrapf(cerr, lgerr.CodeRoleAssumption,
				"auth: sts exchange for role %q abandoned", role)
		}
		return nil, fmt.Errorf("auth: sts assume role: %w", err)
	}
	expiry := value.Expiration
	if expiry.IsZero() && b.config.DurationSeconds > 0 {
		expiry = time.Now().Add(time.Duration(b.config.DurationSeconds) * time.Second)
	}
	return &ShortLivedCredentials{
		AccessKey:    value.AccessKeyID,
		SecretKey:    Secret(value.SecretAccessKey),
		SessionToken: Secret(value.SessionToken),
		Expiry:       expiry,
	}, nil
}

var _ CredentialBroker = (*MinioSTSBroker)(nil)

// ctxBoundTransport attaches a context to each outgoing request. The
// minio credentials provider builds its STS request without one, so this
// is how cancellation reaches the wire.
type ctxBoundTransport struct {
	ctx context.Context
}

func (t ctxBoundTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return http.DefaultTransport.RoundTrip(req.WithContext(t.ctx))
}
