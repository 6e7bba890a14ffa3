package oauth2

import (
	"context"

	"github.com/panyam/campusauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type googleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// NewGoogle creates a Google provider asking for the profile and email scopes
func NewGoogle(clientId, clientSecret, callbackUrl string) *Provider {
	p := newProvider(campusauth.ProviderGoogle, clientId, clientSecret, callbackUrl, google.Endpoint, []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	})
	p.UserInfoURL = googleUserInfoURL
	p.userInfo = googleUserInfo
	return p
}

func googleUserInfo(ctx context.Context, p *Provider, token *oauth2.Token) (*campusauth.ProviderProfile, error) {
	var u googleUser
	if err := p.getJSON(ctx, token, p.UserInfoURL, &u); err != nil {
		return nil, err
	}
	profile := &campusauth.ProviderProfile{
		Subject: u.ID,
		Name:    u.Name,
		Picture: u.Picture,
	}
	// an unverified address must never match a local principal
	if u.VerifiedEmail {
		profile.Email = u.Email
	}
	return profile, nil
}
