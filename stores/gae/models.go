//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	ca "github.com/panyam/campusauth"
)

// PrincipalEntity is the Datastore entity for principals
type PrincipalEntity struct {
	Key              *datastore.Key `datastore:"__key__"`
	Username         string         `datastore:"username"`
	Email            string         `datastore:"email"`
	Phone            string         `datastore:"phone,noindex"`
	Role             string         `datastore:"role"`
	DisplayName      string         `datastore:"display_name,noindex"`
	Picture          string         `datastore:"picture,noindex"`
	PasswordHash     string         `datastore:"password_hash,noindex"`
	TwoFactorEnabled bool           `datastore:"two_factor_enabled"`
	TwoFactorMethod  string         `datastore:"two_factor_method,noindex"`
	TwoFactorSecret  string         `datastore:"two_factor_secret,noindex"`
	CreatedAt        time.Time      `datastore:"created_at"`
	UpdatedAt        time.Time      `datastore:"updated_at"`
}

func (e *PrincipalEntity) ToPrincipal() *ca.Principal {
	return &ca.Principal{
		ID:           e.Key.Name,
		Username:     e.Username,
		Email:        e.Email,
		Phone:        e.Phone,
		Role:         ca.Role(e.Role),
		DisplayName:  e.DisplayName,
		Picture:      e.Picture,
		PasswordHash: e.PasswordHash,
		TwoFactor: ca.TwoFactorConfig{
			Enabled: e.TwoFactorEnabled,
			Method:  ca.DeliveryMethod(e.TwoFactorMethod),
			Secret:  e.TwoFactorSecret,
		},
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func PrincipalToEntity(p *ca.Principal, key *datastore.Key) *PrincipalEntity {
	return &PrincipalEntity{
		Key:              key,
		Username:         p.Username,
		Email:            p.Email,
		Phone:            p.Phone,
		Role:             string(p.Role),
		DisplayName:      p.DisplayName,
		Picture:          p.Picture,
		PasswordHash:     p.PasswordHash,
		TwoFactorEnabled: p.TwoFactor.Enabled,
		TwoFactorMethod:  string(p.TwoFactor.Method),
		TwoFactorSecret:  p.TwoFactor.Secret,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// IndexEntity maps a unique username or email to its principal
type IndexEntity struct {
	PrincipalID string `datastore:"principal_id,noindex"`
}

// FederatedLinkEntity is the Datastore entity for federated links
// Key format: Provider + ":" + Subject
type FederatedLinkEntity struct {
	Key         *datastore.Key `datastore:"__key__"`
	Provider    string         `datastore:"provider"`
	Subject     string         `datastore:"subject"`
	PrincipalID string         `datastore:"principal_id"`
	Email       string         `datastore:"email,noindex"`
	CreatedAt   time.Time      `datastore:"created_at"`
}

func (e *FederatedLinkEntity) ToLink() *ca.FederatedLink {
	return &ca.FederatedLink{
		Provider:    e.Provider,
		Subject:     e.Subject,
		PrincipalID: e.PrincipalID,
		Email:       e.Email,
		CreatedAt:   e.CreatedAt,
	}
}

// ChallengeEntity is the Datastore entity for second-factor challenges
// Key format: principal id
type ChallengeEntity struct {
	Key         *datastore.Key `datastore:"__key__"`
	ChallengeID string         `datastore:"challenge_id,noindex"`
	Method      string         `datastore:"method,noindex"`
	CodeHash    string         `datastore:"code_hash,noindex"`
	Attempts    int            `datastore:"attempts,noindex"`
	CreatedAt   time.Time      `datastore:"created_at,noindex"`
	ExpiresAt   time.Time      `datastore:"expires_at"`
}

func (e *ChallengeEntity) ToChallenge() *ca.Challenge {
	return &ca.Challenge{
		ID:          e.ChallengeID,
		PrincipalID: e.Key.Name,
		Method:      ca.DeliveryMethod(e.Method),
		CodeHash:    e.CodeHash,
		Attempts:    e.Attempts,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

// ResetTokenEntity is the Datastore entity for password reset tokens
// Key format: token hash
type ResetTokenEntity struct {
	Key         *datastore.Key `datastore:"__key__"`
	PrincipalID string         `datastore:"principal_id"`
	Email       string         `datastore:"email,noindex"`
	CreatedAt   time.Time      `datastore:"created_at,noindex"`
	ExpiresAt   time.Time      `datastore:"expires_at"`
	Consumed    bool           `datastore:"consumed"`
	ConsumedAt  time.Time      `datastore:"consumed_at,noindex"`
}

func (e *ResetTokenEntity) ToResetToken() *ca.ResetToken {
	t := &ca.ResetToken{
		TokenHash:   e.Key.Name,
		PrincipalID: e.PrincipalID,
		Email:       e.Email,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
	if e.Consumed {
		at := e.ConsumedAt
		t.ConsumedAt = &at
	}
	return t
}

// ResetIndexEntity points at the live reset token of a principal
type ResetIndexEntity struct {
	TokenHash string `datastore:"token_hash,noindex"`
}
