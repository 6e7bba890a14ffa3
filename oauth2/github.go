package oauth2

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/panyam/campusauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	githubUserInfoURL = "https://api.github.com/user"
	githubEmailsURL   = "https://api.github.com/user/emails"
)

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GithubProvider also knows where to look up emails hidden from the profile
type GithubProvider struct {
	*Provider

	// EmailsURL lists the user's addresses. Can be overridden for testing.
	EmailsURL string
}

// NewGitHub creates a GitHub provider. Users with a private profile email
// are resolved through their primary verified address.
func NewGitHub(clientId, clientSecret, callbackUrl string) *GithubProvider {
	out := &GithubProvider{
		Provider:  newProvider(campusauth.ProviderGitHub, clientId, clientSecret, callbackUrl, github.Endpoint, []string{"read:user", "user:email"}),
		EmailsURL: githubEmailsURL,
	}
	out.UserInfoURL = githubUserInfoURL
	out.userInfo = out.fetchUserInfo
	return out
}

func (g *GithubProvider) fetchUserInfo(ctx context.Context, p *Provider, token *oauth2.Token) (*campusauth.ProviderProfile, error) {
	var u githubUser
	if err := p.getJSON(ctx, token, p.UserInfoURL, &u); err != nil {
		return nil, err
	}
	profile := &campusauth.ProviderProfile{
		Email:   u.Email,
		Name:    firstNonEmpty(u.Name, u.Login),
		Picture: u.AvatarURL,
	}
	if u.ID != 0 {
		profile.Subject = strconv.FormatInt(u.ID, 10)
	}
	if profile.Email == "" {
		email, err := g.primaryEmail(ctx, token)
		if err != nil {
			// the broker reports the missing email
			slog.Warn("github email lookup failed", "login", u.Login, "err", err)
		}
		profile.Email = email
	}
	return profile, nil
}

func (g *GithubProvider) primaryEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	var emails []githubEmail
	if err := g.getJSON(ctx, token, g.EmailsURL, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
