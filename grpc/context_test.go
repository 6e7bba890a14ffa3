package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"

	ca "github.com/panyam/campusauth"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.MetadataKeyAuthorization != DefaultMetadataKeyAuthorization {
		t.Errorf("expected MetadataKeyAuthorization %q, got %q", DefaultMetadataKeyAuthorization, config.MetadataKeyAuthorization)
	}
	if config.MetadataKeyPrincipalID != DefaultMetadataKeyPrincipalID {
		t.Errorf("expected MetadataKeyPrincipalID %q, got %q", DefaultMetadataKeyPrincipalID, config.MetadataKeyPrincipalID)
	}
	if config.TrustForwardedPrincipal {
		t.Error("expected TrustForwardedPrincipal to be false by default")
	}
}

func TestEnsureDefaults(t *testing.T) {
	config := &Config{}
	config.EnsureDefaults()
	if config.MetadataKeyAuthorization != DefaultMetadataKeyAuthorization {
		t.Errorf("expected MetadataKeyAuthorization %q, got %q", DefaultMetadataKeyAuthorization, config.MetadataKeyAuthorization)
	}
	if config.MetadataKeyPrincipalID != DefaultMetadataKeyPrincipalID {
		t.Errorf("expected MetadataKeyPrincipalID %q, got %q", DefaultMetadataKeyPrincipalID, config.MetadataKeyPrincipalID)
	}
}

func TestPrincipalIDFromContext_Anonymous(t *testing.T) {
	if id := PrincipalIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty principal ID, got %q", id)
	}
	if IsAuthenticated(context.Background()) {
		t.Error("expected not authenticated")
	}
}

func TestPrincipalIDFromContext_MetadataAloneIsNotTrusted(t *testing.T) {
	// raw metadata never authenticates; only the interceptor does
	md := metadata.Pairs(DefaultMetadataKeyPrincipalID, "p-123")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	if id := PrincipalIDFromContext(ctx); id != "" {
		t.Errorf("expected empty principal ID, got %q", id)
	}
}

func TestSessionFromContext_FiltersForwardedClaims(t *testing.T) {
	forwarded := &ca.SessionClaims{}
	forwarded.Subject = "p-123"
	ctx := ca.SetSessionInContext(context.Background(), forwarded)
	if SessionFromContext(ctx) != nil {
		t.Error("forwarded principal must not look like a verified session")
	}
	if PrincipalIDFromContext(ctx) != "p-123" {
		t.Errorf("expected principal p-123, got %q", PrincipalIDFromContext(ctx))
	}
}

func TestTokenToOutgoingContext(t *testing.T) {
	ctx := TokenToOutgoingContext(context.Background(), "tok")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	values := md.Get(DefaultMetadataKeyAuthorization)
	if len(values) != 1 || values[0] != "Bearer tok" {
		t.Errorf("expected [Bearer tok], got %v", values)
	}
}

func TestPrincipalIDToOutgoingContext(t *testing.T) {
	ctx := PrincipalIDToOutgoingContext(context.Background(), "p-9")
	md, _ := metadata.FromOutgoingContext(ctx)
	if values := md.Get(DefaultMetadataKeyPrincipalID); len(values) != 1 || values[0] != "p-9" {
		t.Errorf("expected [p-9], got %v", values)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		md := metadata.Pairs(DefaultMetadataKeyAuthorization, tt.value)
		if got := bearerToken(md, DefaultMetadataKeyAuthorization); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
	if got := bearerToken(metadata.MD{}, DefaultMetadataKeyAuthorization); got != "" {
		t.Errorf("expected empty token for missing key, got %q", got)
	}
}
