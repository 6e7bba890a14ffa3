// Package grpc carries campusauth sessions across gRPC calls. Clients send
// the session token as "authorization: Bearer <token>" metadata; the server
// interceptors verify it and place the claims in the handler context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ca "github.com/panyam/campusauth"
)

// Default metadata keys for authentication context.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <session token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyPrincipalID is set by a trusted gateway that already
	// verified the session over HTTP
	DefaultMetadataKeyPrincipalID = "x-principal-id"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// Defaults to "authorization"
	MetadataKeyAuthorization string

	// Defaults to "x-principal-id"
	MetadataKeyPrincipalID string

	// TrustForwardedPrincipal accepts a bare principal id from metadata when
	// no token is present. Only enable behind a gateway that strips the key
	// from external traffic.
	TrustForwardedPrincipal bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyPrincipalID:   DefaultMetadataKeyPrincipalID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyPrincipalID == "" {
		c.MetadataKeyPrincipalID = DefaultMetadataKeyPrincipalID
	}
}

// PrincipalIDFromContext returns the principal id the interceptor
// authenticated, or "" for anonymous calls.
func PrincipalIDFromContext(ctx context.Context) string {
	return ca.PrincipalIDFromContext(ctx)
}

// SessionFromContext returns the verified session claims, nil when the
// call was anonymous or authenticated by a forwarded principal id
func SessionFromContext(ctx context.Context) *ca.SessionClaims {
	claims := ca.SessionFromContext(ctx)
	if claims == nil || claims.Type != ca.TokenTypeSession {
		return nil
	}
	return claims
}

// IsAuthenticated returns true if there is an authenticated principal in the context.
func IsAuthenticated(ctx context.Context) bool {
	return PrincipalIDFromContext(ctx) != ""
}

// TokenToOutgoingContext attaches a session token to outgoing calls
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// PrincipalIDToOutgoingContext forwards an already verified principal id,
// for gateway-to-backend hops where the backend sets TrustForwardedPrincipal.
func PrincipalIDToOutgoingContext(ctx context.Context, principalID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyPrincipalID, principalID)
}

// bearerToken extracts the token from incoming metadata, "" if absent
func bearerToken(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	v := strings.TrimSpace(values[0])
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}
