package oauth2_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/panyam/campusauth"
	"github.com/panyam/campusauth/oauth2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"
)

// mockOAuthServer creates a mock OAuth provider server that handles:
// - /token endpoint for token exchange
// - /userinfo endpoint for user data retrieval
// - /emails endpoint for GitHub's address list
type mockOAuthServer struct {
	server *httptest.Server

	// Configuration for responses
	userInfoResponse map[string]any
	emailsResponse   []map[string]any
	tokenError       bool
	userInfoError    bool

	lastCode      string
	lastAuthToken string
}

func newMockOAuthServer() *mockOAuthServer {
	mock := &mockOAuthServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if mock.tokenError {
			http.Error(w, "token exchange failed", http.StatusBadRequest)
			return
		}
		r.ParseForm()
		mock.lastCode = r.FormValue("code")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mock_access_token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		mock.lastAuthToken = r.Header.Get("Authorization")
		if mock.userInfoError {
			http.Error(w, "user info failed", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.userInfoResponse)
	})
	mux.HandleFunc("/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.emailsResponse)
	})

	mock.server = httptest.NewServer(mux)
	return mock
}

func (m *mockOAuthServer) Close() {
	m.server.Close()
}

// point rewires a provider at the mock server
func (m *mockOAuthServer) point(p *oauth2.Provider) {
	p.UserInfoURL = m.server.URL + "/userinfo"
	p.SetHTTPClient(m.server.Client())
	p.SetOAuthEndpoint(oauth2lib.Endpoint{
		AuthURL:  m.server.URL + "/auth",
		TokenURL: m.server.URL + "/token",
	})
}

func TestAuthCodeURL(t *testing.T) {
	p := oauth2.NewGoogle("test-client-id", "test-client-secret", "http://localhost:8080/auth/google/callback/")
	p.SetOAuthEndpoint(oauth2lib.Endpoint{
		AuthURL:  "https://provider.example.com/auth",
		TokenURL: "https://provider.example.com/token",
	})

	u, err := url.Parse(p.AuthCodeURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "provider.example.com", u.Host)

	query := u.Query()
	assert.Equal(t, "test-client-id", query.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/auth/google/callback/", query.Get("redirect_uri"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "state-123", query.Get("state"))
	assert.Contains(t, query.Get("scope"), "userinfo.email")
}

func TestProviderNames(t *testing.T) {
	assert.Equal(t, campusauth.ProviderGoogle, oauth2.NewGoogle("a", "b", "c").Name())
	assert.Equal(t, campusauth.ProviderGitHub, oauth2.NewGitHub("a", "b", "c").Name())
	assert.Equal(t, campusauth.ProviderFacebook, oauth2.NewFacebook("a", "b", "c").Name())
	assert.Equal(t, campusauth.ProviderMicrosoft, oauth2.NewMicrosoft("a", "b", "c", "").Name())
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("OAUTH2_GITHUB_CLIENT_ID", "env-client")
	t.Setenv("OAUTH2_GITHUB_CLIENT_SECRET", "env-secret")
	t.Setenv("OAUTH2_GITHUB_CALLBACK_URL", "http://localhost/cb")

	p := oauth2.NewGitHub("", "", "")
	assert.Equal(t, "env-client", p.ClientId)
	assert.Equal(t, "env-secret", p.ClientSecret)
	assert.Equal(t, "http://localhost/cb", p.CallbackURL)
}

func TestGoogleExchange(t *testing.T) {
	mock := newMockOAuthServer()
	defer mock.Close()

	p := oauth2.NewGoogle("test-client-id", "test-client-secret", "http://localhost:8080/callback")
	mock.point(p)

	t.Run("successful exchange", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{
			"id":             "google123",
			"email":          "Alice@Example.edu",
			"verified_email": true,
			"name":           "Alice",
			"picture":        "https://example.com/a.png",
		}
		profile, err := p.Exchange(context.Background(), "valid_code")
		require.NoError(t, err)
		assert.Equal(t, "valid_code", mock.lastCode)
		assert.Equal(t, "Bearer mock_access_token", mock.lastAuthToken)
		assert.Equal(t, &campusauth.ProviderProfile{
			Provider: "google",
			Subject:  "google123",
			Email:    "alice@example.edu",
			Name:     "Alice",
			Picture:  "https://example.com/a.png",
		}, profile)
	})

	t.Run("unverified email is dropped", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{
			"id":             "google456",
			"email":          "victim@campus.edu",
			"verified_email": false,
			"name":           "Mallory",
		}
		profile, err := p.Exchange(context.Background(), "valid_code")
		require.NoError(t, err)
		assert.Equal(t, "google456", profile.Subject)
		assert.Empty(t, profile.Email)
		assert.Equal(t, "Mallory", profile.Name)
	})

	t.Run("token exchange failure", func(t *testing.T) {
		mock.tokenError = true
		defer func() { mock.tokenError = false }()
		_, err := p.Exchange(context.Background(), "bad_code")
		assert.Error(t, err)
	})

	t.Run("user info failure", func(t *testing.T) {
		mock.userInfoError = true
		defer func() { mock.userInfoError = false }()
		_, err := p.Exchange(context.Background(), "valid_code")
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{"email": "x@example.edu"}
		_, err := p.Exchange(context.Background(), "valid_code")
		assert.Error(t, err)
	})
}

func TestGithubExchange(t *testing.T) {
	mock := newMockOAuthServer()
	defer mock.Close()

	p := oauth2.NewGitHub("test-client-id", "test-client-secret", "http://localhost:8080/callback")
	mock.point(p.Provider)
	p.EmailsURL = mock.server.URL + "/emails"

	t.Run("public email", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{
			"id":         42,
			"login":      "bobcodes",
			"email":      "bob@example.edu",
			"avatar_url": "https://example.com/b.png",
		}
		profile, err := p.Exchange(context.Background(), "code")
		require.NoError(t, err)
		assert.Equal(t, "github", profile.Provider)
		assert.Equal(t, "42", profile.Subject)
		assert.Equal(t, "bob@example.edu", profile.Email)
		assert.Equal(t, "bobcodes", profile.Name)
	})

	t.Run("private email falls back to primary verified", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{"id": 43, "login": "quiet", "email": nil}
		mock.emailsResponse = []map[string]any{
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "unverified@example.com", "primary": true, "verified": false},
			{"email": "quiet@example.edu", "primary": true, "verified": true},
		}
		profile, err := p.Exchange(context.Background(), "code")
		require.NoError(t, err)
		assert.Equal(t, "quiet@example.edu", profile.Email)
	})

	t.Run("no usable email leaves it empty", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{"id": 44, "login": "ghost"}
		mock.emailsResponse = []map[string]any{}
		profile, err := p.Exchange(context.Background(), "code")
		require.NoError(t, err)
		assert.Empty(t, profile.Email)
	})
}

func TestFacebookExchange(t *testing.T) {
	mock := newMockOAuthServer()
	defer mock.Close()

	p := oauth2.NewFacebook("id", "secret", "http://localhost:8080/callback")
	mock.point(p)
	mock.userInfoResponse = map[string]any{
		"id":    "fb-1",
		"name":  "Carol",
		"email": "carol@example.edu",
		"picture": map[string]any{
			"data": map[string]any{"url": "https://example.com/c.png"},
		},
	}

	profile, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "fb-1", profile.Subject)
	assert.Equal(t, "https://example.com/c.png", profile.Picture)
}

func TestMicrosoftExchange(t *testing.T) {
	mock := newMockOAuthServer()
	defer mock.Close()

	p := oauth2.NewMicrosoft("id", "secret", "http://localhost:8080/callback", "")
	mock.point(p)

	t.Run("mail", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{
			"id":                "ms-1",
			"displayName":       "Dan",
			"mail":              "Dan@Campus.edu",
			"userPrincipalName": "dan_campus.edu#EXT#@tenant.onmicrosoft.com",
		}
		profile, err := p.Exchange(context.Background(), "code")
		require.NoError(t, err)
		assert.Equal(t, "ms-1", profile.Subject)
		assert.Equal(t, "dan@campus.edu", profile.Email)
		assert.Equal(t, "Dan", profile.Name)
	})

	t.Run("principal name is not an email", func(t *testing.T) {
		mock.userInfoResponse = map[string]any{
			"id":                "ms-2",
			"mail":              nil,
			"userPrincipalName": "victim@campus.edu",
		}
		profile, err := p.Exchange(context.Background(), "code")
		require.NoError(t, err)
		assert.Equal(t, "ms-2", profile.Subject)
		assert.Empty(t, profile.Email)
		assert.Equal(t, "victim@campus.edu", profile.Name)
	})
}
