package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/google/uuid"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// Metadata keys understood by the interceptors. gRPC metadata keys are
// lowercase by convention.
const (
	metadataAuthorization = "authorization"
	metadataSession       = "x-lakegate-session"
	metadataRole          = "x-lakegate-role"
)

// UnaryServerInterceptor returns a gRPC unary interceptor running the
// same authentication flow as the HTTP [Middleware]: session adoption,
// token validation, optional role exchange, and [AuthState] installation
// via [EnterAuthScope].
//
// Authentication failures map to the Unauthenticated code, exchange
// failures to Unavailable.
func UnaryServerInterceptor(cfg MiddlewareConfig) (grpc.UnaryServerInterceptor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, done, err := authenticateGRPC(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer done()
		return handler(ctx, req)
	}, nil
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor]. The stream is wrapped so handlers observe
// the authenticated context, and the auth scope spans the whole stream
// lifetime.
func StreamServerInterceptor(cfg MiddlewareConfig) (grpc.StreamServerInterceptor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, done, err := authenticateGRPC(ss.Context(), cfg)
		if err != nil {
			return err
		}
		defer done()
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}, nil
}

// authenticateGRPC runs the shared authentication flow over incoming
// metadata and returns the enriched context plus its scope teardown.
func authenticateGRPC(ctx context.Context, cfg MiddlewareConfig) (context.Context, func(), error) {
	md, _ := metadata.FromIncomingContext(ctx)

	token := ""
	if vals := md.Get(metadataAuthorization); len(vals) > 0 {
		token = ExtractBearerToken(vals[0])
	}
	sessionID := ""
	if vals := md.Get(metadataSession); len(vals) > 0 {
		sessionID = vals[0]
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	state := &AuthState{Scheme: SchemeNone, SessionID: sessionID}
	logger := cfg.effectiveLogger()

	if rec, err := cfg.Sessions.Lookup(ctx, sessionID); err == nil {
		state.Scheme = SchemeToken
		state.Claims = rec.Claims
	} else if token != "" {
		claims, verr := cfg.Validator.Validate(ctx, token)
		if verr != nil {
			if ierr := cfg.Sessions.Invalidate(ctx, sessionID); ierr != nil {
				logger.Warn("session invalidation failed",
					"session_id", sessionID,
					"error", ierr,
				)
			}
			if cfg.Strict {
				return ctx, nil, grpcStatus(verr)
			}
		} else {
			if serr := cfg.Sessions.Store(ctx, &SessionRecord{
				SessionID: sessionID,
				Subject:   claims.Subject,
				Claims:    claims,
			}); serr != nil {
				// Authentication succeeded; only the cache missed out.
				logger.Warn("session store failed",
					"session_id", sessionID,
					"error", serr,
				)
			}
			state.Scheme = SchemeToken
			state.Claims = claims
		}
	}

	if state.Scheme == SchemeNone {
		if cfg.Strict {
			return ctx, nil, status.Error(codes.Unauthenticated, "request is not authenticated")
		}
		if cfg.AmbientState != nil {
			ambient := *cfg.AmbientState
			ambient.SessionID = sessionID
			state = &ambient
		} else {
			state.Scheme = SchemeAmbient
		}
	}

	if vals := md.Get(metadataRole); len(vals) > 0 && vals[0] != "" && state.Claims != nil {
		role := vals[0]
		if !state.Claims.HasRole(role) {
			return ctx, nil, status.Errorf(codes.PermissionDenied,
				"role %q is not granted to this identity", role)
		}
		if cfg.Exchange == nil {
			return ctx, nil, status.Error(codes.Unavailable, "role assumption is not available")
		}
		creds, err := cfg.Exchange.Activate(ctx, state.Claims.Subject, role)
		if err != nil {
			return ctx, nil, grpcStatus(err)
		}
		state.Scheme = SchemeAssumedRole
		state.ActiveRole = role
		state.Credentials = creds
	}

	ctx, done := EnterAuthScope(ctx, state)
	return ctx, done, nil
}

// grpcStatus maps a platform error to a gRPC status using the error's
// code category. The detailed message survives; the cause chain does
// not cross the wire.
func grpcStatus(err error) error {
	coded, ok := lgerr.AsError(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}
	switch {
	case lgerr.IsAuthentication(coded):
		return status.Error(codes.Unauthenticated, coded.Message)
	case lgerr.IsAuthorization(coded):
		return status.Error(codes.PermissionDenied, coded.Message)
	case lgerr.IsUnavailable(coded):
		return status.Error(codes.Unavailable, coded.Message)
	case lgerr.IsValidation(coded):
		return status.Error(codes.InvalidArgument, coded.Message)
	default:
		return status.Error(codes.Internal, coded.Message)
	}
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context
// method, since ServerStream.Context() returns the original stream
// context without the interceptor's auth state.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context carrying the auth state.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
