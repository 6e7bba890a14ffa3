package oauth2

import (
	"context"

	"github.com/panyam/campusauth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const microsoftUserInfoURL = "https://graph.microsoft.com/v1.0/me"

type microsoftUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// NewMicrosoft creates a Microsoft identity platform provider. An empty
// tenant means "common" (work, school and personal accounts).
func NewMicrosoft(clientId, clientSecret, callbackUrl, tenant string) *Provider {
	if tenant == "" {
		tenant = "common"
	}
	p := newProvider(campusauth.ProviderMicrosoft, clientId, clientSecret, callbackUrl,
		microsoft.AzureADEndpoint(tenant), []string{"openid", "profile", "email", "User.Read"})
	p.UserInfoURL = microsoftUserInfoURL
	p.userInfo = microsoftUserInfo
	return p
}

func microsoftUserInfo(ctx context.Context, p *Provider, token *oauth2.Token) (*campusauth.ProviderProfile, error) {
	var u microsoftUser
	if err := p.getJSON(ctx, token, p.UserInfoURL, &u); err != nil {
		return nil, err
	}
	// userPrincipalName is a sign-in name, not a verified address
	name := u.DisplayName
	if name == "" {
		name = u.UserPrincipalName
	}
	return &campusauth.ProviderProfile{
		Subject: u.ID,
		Email:   u.Mail,
		Name:    name,
	}, nil
}
