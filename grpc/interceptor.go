package grpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ca "github.com/panyam/campusauth"
)

// SessionVerifier checks a session token. *campusauth.TokenIssuer satisfies it.
type SessionVerifier interface {
	VerifySession(token string) (*ca.SessionClaims, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Verifier checks bearer tokens. Required unless only forwarded
	// principals are accepted.
	Verifier SessionVerifier

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but PrincipalIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(verifier SessionVerifier) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Verifier:      verifier,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(verifier SessionVerifier, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(verifier)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(verifier SessionVerifier) *InterceptorConfig {
	config := DefaultInterceptorConfig(verifier)
	config.RequireAuth = false
	return config
}

func (config *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig(nil)
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	if config.PublicMethods == nil {
		config.PublicMethods = make(map[string]bool)
	}
	return config
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that verifies the
// session token and stores its claims in the handler context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that verifies the
// session token once when the stream opens.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

// authenticatedStream overrides Context so handlers see the claims
type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}

func (config *InterceptorConfig) required(method string) bool {
	return config.RequireAuth && !config.PublicMethods[method]
}

// authenticate returns ctx with claims attached, or a status error when
// the method needs auth and none is valid
func (config *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	claims, err := config.extractClaims(ctx)
	if err != nil {
		if config.required(method) {
			return ctx, err
		}
		slog.Debug("ignoring bad credentials on optional method", "method", method, "error", err)
		return ctx, nil
	}
	if claims == nil {
		if config.required(method) {
			return ctx, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	return ca.SetSessionInContext(ctx, claims), nil
}

// extractClaims returns nil claims and no error when the call carries no
// credentials at all
func (config *InterceptorConfig) extractClaims(ctx context.Context) (*ca.SessionClaims, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, nil
	}

	if token := bearerToken(md, config.Config.MetadataKeyAuthorization); token != "" {
		if config.Verifier == nil {
			return nil, status.Error(codes.Unauthenticated, "token authentication not configured")
		}
		claims, err := config.Verifier.VerifySession(token)
		if err != nil {
			if errors.Is(err, ca.ErrTokenExpired) {
				return nil, status.Error(codes.Unauthenticated, "token expired")
			}
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return claims, nil
	}

	if config.Config.TrustForwardedPrincipal {
		if values := md.Get(config.Config.MetadataKeyPrincipalID); len(values) > 0 && values[0] != "" {
			return &ca.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: values[0]}}, nil
		}
	}
	return nil, nil
}
