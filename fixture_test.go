package campusauth_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ca "github.com/panyam/campusauth"
	"github.com/panyam/campusauth/stores/fs"
)

const testSigningKey = "campusauth-test-signing-key-0123"

// testEnv is a full authenticator over filesystem stores with a recording
// dispatcher, so every test gets isolated state
type testEnv struct {
	Principals  *fs.FSPrincipalStore
	Links       *fs.FSLinkStore
	Challenges  *fs.FSChallengeStore
	ResetTokens *fs.FSResetTokenStore
	Dispatcher  *ca.RecordingDispatcher
	Auth        *ca.Authenticator
}

func newTestEnv(t *testing.T, providers ...ca.IdentityProvider) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		Principals:  fs.NewFSPrincipalStore(dir),
		Links:       fs.NewFSLinkStore(dir),
		Challenges:  fs.NewFSChallengeStore(dir),
		ResetTokens: fs.NewFSResetTokenStore(dir),
		Dispatcher:  &ca.RecordingDispatcher{},
	}
	auth, err := ca.NewAuthenticator(ca.AuthenticatorConfig{
		Principals:  env.Principals,
		Links:       env.Links,
		Challenges:  env.Challenges,
		ResetTokens: env.ResetTokens,
		Dispatcher:  env.Dispatcher,
		Tokens:      ca.TokenConfig{SigningKey: []byte(testSigningKey)},
		Providers:   providers,
		BaseURL:     "https://campus.example.edu",
	})
	require.NoError(t, err)
	auth.Verifier.Cost = bcrypt.MinCost
	env.Auth = auth
	return env
}

// fixedCode makes the challenger issue the same code every time
func (e *testEnv) fixedCode(code string) {
	e.Auth.TwoFactor.GenerateCode = func(int) (string, error) { return code, nil }
}

func (e *testEnv) addPrincipal(t *testing.T, username, password string, mutate ...func(p *ca.Principal)) *ca.Principal {
	t.Helper()
	p := &ca.Principal{
		ID:       "p-" + username,
		Username: username,
		Email:    username + "@example.com",
		Role:     ca.RoleStudent,
	}
	if password != "" {
		hash, err := e.Auth.Verifier.HashSecret(password)
		require.NoError(t, err)
		p.PasswordHash = hash
	}
	for _, m := range mutate {
		m(p)
	}
	require.NoError(t, e.Principals.CreatePrincipal(context.Background(), p))
	return p
}

func withEmailTwoFactor(p *ca.Principal) {
	p.TwoFactor = ca.TwoFactorConfig{Enabled: true, Method: ca.DeliveryEmail}
}

// resetTokenFor pulls the raw token out of the last reset link sent to email
func (e *testEnv) resetTokenFor(t *testing.T, email string) string {
	t.Helper()
	msg, ok := e.Dispatcher.Last(email)
	require.True(t, ok, "no message sent to %s", email)
	for _, field := range strings.Fields(msg.Body) {
		if u, err := url.Parse(field); err == nil && u.Query().Get("token") != "" {
			return u.Query().Get("token")
		}
	}
	t.Fatalf("no reset link in %q", msg.Body)
	return ""
}

// fakeProvider hands out canned profiles keyed by authorization code
type fakeProvider struct {
	name string

	mu       sync.Mutex
	profiles map[string]ca.ProviderProfile
	calls    int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, profiles: map[string]ca.ProviderProfile{}}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.example/" + p.name + "/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*ca.ProviderProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	prof, ok := p.profiles[code]
	if !ok {
		return nil, errors.New("invalid_grant")
	}
	return &prof, nil
}

func (p *fakeProvider) issue(code string, prof ca.ProviderProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prof.Provider = p.name
	p.profiles[code] = prof
}
