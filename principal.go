package campusauth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of roles a principal may hold
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// DefaultRole is the lowest-privilege role, given to provisioned principals
const DefaultRole = RoleStudent

// ParseRole converts a string into a Role, rejecting unknown values
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleFaculty, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// DeliveryMethod is how second-factor codes reach a principal
type DeliveryMethod string

const (
	DeliveryEmail DeliveryMethod = "email"
	DeliverySMS   DeliveryMethod = "sms"
	DeliveryTOTP  DeliveryMethod = "totp" // authenticator app, nothing is dispatched
)

// TwoFactorConfig is the per-principal second-factor setting.
// Toggling it is an administrative action on the principal store.
type TwoFactorConfig struct {
	Enabled bool           `json:"enabled"`
	Method  DeliveryMethod `json:"method,omitempty"`
	Secret  string         `json:"secret,omitempty"` // base32 seed, only used by totp
}

// Principal is an identity record owned by the external user store
type Principal struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone,omitempty"`
	Role         Role            `json:"role"`
	DisplayName  string          `json:"display_name,omitempty"`
	Picture      string          `json:"picture,omitempty"`
	PasswordHash string          `json:"password_hash,omitempty"`
	TwoFactor    TwoFactorConfig `json:"two_factor"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PublicPrincipal is the view of a principal that may leave the server.
// It never carries the credential hash or the second-factor seed.
type PublicPrincipal struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
}

func (p *Principal) Public() PublicPrincipal {
	return PublicPrincipal{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		Role:        p.Role,
		DisplayName: p.DisplayName,
		Picture:     p.Picture,
	}
}

// HasLocalCredential reports whether the principal can log in with a password
func (p *Principal) HasLocalCredential() bool {
	return p.PasswordHash != ""
}

// RequiresSecondFactor reports whether logins must pass a second-factor challenge
func (p *Principal) RequiresSecondFactor() bool {
	return p.TwoFactor.Enabled
}

// FederatedLink maps a provider-issued subject to a local principal.
// Each (Provider, Subject) pair maps to at most one principal.
type FederatedLink struct {
	Provider    string    `json:"provider"`
	Subject     string    `json:"subject"`
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LinkKey creates a consistent key from provider and subject
func LinkKey(provider, subject string) string {
	return provider + ":" + subject
}

// PrincipalStore is the external user store as seen by this package.
// Lookups return ErrNotFound (possibly wrapped) when nothing matches.
type PrincipalStore interface {
	GetPrincipalByID(ctx context.Context, id string) (*Principal, error)
	GetPrincipalByUsername(ctx context.Context, username string) (*Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)

	// CreatePrincipal inserts a new principal. Fails if the username or email is taken.
	CreatePrincipal(ctx context.Context, p *Principal) error

	// UpdatePasswordHash replaces only the stored credential hash
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error
}

// LinkStore manages federated identity links
type LinkStore interface {
	GetLink(ctx context.Context, provider, subject string) (*FederatedLink, error)

	// CreateLink inserts a link. Fails if (provider, subject) already exists.
	CreateLink(ctx context.Context, link *FederatedLink) error

	GetPrincipalLinks(ctx context.Context, principalID string) ([]*FederatedLink, error)
}

// AccountLinker attaches or detaches a provider on an already signed-in
// principal. Declared for future use; nothing in this package implements it.
type AccountLinker interface {
	Link(ctx context.Context, principalID, provider string, proof ProviderProfile) error
	Unlink(ctx context.Context, principalID, provider string) error
}
