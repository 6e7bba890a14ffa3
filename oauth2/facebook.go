package oauth2

import (
	"context"

	"github.com/panyam/campusauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const facebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email,picture"

type facebookUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// NewFacebook creates a Facebook provider asking for public_profile and email
func NewFacebook(clientId, clientSecret, callbackUrl string) *Provider {
	p := newProvider(campusauth.ProviderFacebook, clientId, clientSecret, callbackUrl, facebook.Endpoint, []string{"public_profile", "email"})
	p.UserInfoURL = facebookUserInfoURL
	p.userInfo = facebookUserInfo
	return p
}

func facebookUserInfo(ctx context.Context, p *Provider, token *oauth2.Token) (*campusauth.ProviderProfile, error) {
	var u facebookUser
	if err := p.getJSON(ctx, token, p.UserInfoURL, &u); err != nil {
		return nil, err
	}
	return &campusauth.ProviderProfile{
		Subject: u.ID,
		Email:   u.Email,
		Name:    u.Name,
		Picture: u.Picture.Data.URL,
	}, nil
}
