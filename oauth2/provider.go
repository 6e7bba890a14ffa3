package oauth2

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/panyam/campusauth"
	"golang.org/x/oauth2"
)

// userInfoFunc fetches and normalizes the provider's profile for a token
type userInfoFunc func(ctx context.Context, p *Provider, token *oauth2.Token) (*campusauth.ProviderProfile, error)

// Provider is one external identity provider driven through the OAuth2
// authorization code flow. It implements campusauth.IdentityProvider.
type Provider struct {
	name         string
	ClientId     string
	ClientSecret string
	CallbackURL  string

	// UserInfoURL is the URL to fetch user info from. Can be overridden for testing.
	UserInfoURL string

	// HTTPClient is used for token exchange and user info. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
	userInfo    userInfoFunc
}

// newProvider reads missing client settings from OAUTH2_<NAME>_CLIENT_ID,
// OAUTH2_<NAME>_CLIENT_SECRET and OAUTH2_<NAME>_CALLBACK_URL
func newProvider(name, clientId, clientSecret, callbackUrl string, endpoint oauth2.Endpoint, scopes []string) *Provider {
	prefix := "OAUTH2_" + strings.ToUpper(name) + "_"
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv(prefix + "CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv(prefix + "CALLBACK_URL"))
	}
	return &Provider{
		name:         name,
		ClientId:     clientId,
		ClientSecret: clientSecret,
		CallbackURL:  callbackUrl,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

func (p *Provider) Name() string { return p.name }

// Scopes requested from the provider
func (p *Provider) Scopes() []string { return p.oauthConfig.Scopes }

// SetOAuthEndpoint overrides the authorization and token endpoints (for testing)
func (p *Provider) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	p.oauthConfig.Endpoint = endpoint
}

// SetHTTPClient sets a custom HTTP client (for testing)
func (p *Provider) SetHTTPClient(client *http.Client) {
	p.HTTPClient = client
}

func (p *Provider) getHTTPClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// AuthCodeURL is the provider consent page the browser is redirected to
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

// Exchange trades the authorization code for a token and returns the
// normalized profile of the user who granted it
func (p *Provider) Exchange(ctx context.Context, code string) (*campusauth.ProviderProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.getHTTPClient())
	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s code exchange: %w", p.name, err)
	}
	profile, err := p.userInfo(ctx, p, token)
	if err != nil {
		return nil, fmt.Errorf("%s user info: %w", p.name, err)
	}
	if profile.Subject == "" {
		return nil, fmt.Errorf("%s user info carried no subject", p.name)
	}
	profile.Provider = p.name
	profile.Email = campusauth.NormalizeEmail(profile.Email)
	return profile, nil
}

var _ campusauth.IdentityProvider = (*Provider)(nil)
