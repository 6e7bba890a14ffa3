//go:build !wasm
// +build !wasm

package gorm

import (
	"strings"
	"time"

	ca "github.com/panyam/campusauth"
)

// PrincipalModel is the GORM model for principals
type PrincipalModel struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Username     string  `gorm:"size:128"`
	UsernameKey  string  `gorm:"size:128;uniqueIndex"`
	Email        *string `gorm:"size:320;uniqueIndex"`
	Phone        string  `gorm:"size:32"`
	Role         ca.Role `gorm:"size:16"`
	DisplayName  string  `gorm:"size:255"`
	Picture      string  `gorm:"size:1024"`
	PasswordHash string  `gorm:"size:128"`

	TwoFactorEnabled bool              `gorm:"default:false"`
	TwoFactorMethod  ca.DeliveryMethod `gorm:"size:16"`
	TwoFactorSecret  string            `gorm:"size:128"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (PrincipalModel) TableName() string {
	return "principals"
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (m *PrincipalModel) ToPrincipal() *ca.Principal {
	p := &ca.Principal{
		ID:           m.ID,
		Username:     m.Username,
		Phone:        m.Phone,
		Role:         m.Role,
		DisplayName:  m.DisplayName,
		Picture:      m.Picture,
		PasswordHash: m.PasswordHash,
		TwoFactor: ca.TwoFactorConfig{
			Enabled: m.TwoFactorEnabled,
			Method:  m.TwoFactorMethod,
			Secret:  m.TwoFactorSecret,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Email != nil {
		p.Email = *m.Email
	}
	return p
}

func PrincipalToModel(p *ca.Principal) *PrincipalModel {
	m := &PrincipalModel{
		ID:               p.ID,
		Username:         p.Username,
		UsernameKey:      usernameKey(p.Username),
		Phone:            p.Phone,
		Role:             p.Role,
		DisplayName:      p.DisplayName,
		Picture:          p.Picture,
		PasswordHash:     p.PasswordHash,
		TwoFactorEnabled: p.TwoFactor.Enabled,
		TwoFactorMethod:  p.TwoFactor.Method,
		TwoFactorSecret:  p.TwoFactor.Secret,
		CreatedAt:        p.CreatedAt,
	}
	// NULL emails do not collide in the unique index
	if email := ca.NormalizeEmail(p.Email); email != "" {
		m.Email = &email
	}
	return m
}

// FederatedLinkModel is the GORM model for federated links
type FederatedLinkModel struct {
	Provider    string    `gorm:"primaryKey;size:32"`
	Subject     string    `gorm:"primaryKey;size:255"`
	PrincipalID string    `gorm:"size:64;index"`
	Email       string    `gorm:"size:320"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (FederatedLinkModel) TableName() string {
	return "federated_links"
}

func (m *FederatedLinkModel) ToLink() *ca.FederatedLink {
	return &ca.FederatedLink{
		Provider:    m.Provider,
		Subject:     m.Subject,
		PrincipalID: m.PrincipalID,
		Email:       m.Email,
		CreatedAt:   m.CreatedAt,
	}
}

func LinkToModel(l *ca.FederatedLink) *FederatedLinkModel {
	return &FederatedLinkModel{
		Provider:    l.Provider,
		Subject:     l.Subject,
		PrincipalID: l.PrincipalID,
		Email:       l.Email,
		CreatedAt:   l.CreatedAt,
	}
}

// ChallengeModel is the GORM model for second-factor challenges.
// The principal id is the primary key, so there is at most one per principal.
type ChallengeModel struct {
	PrincipalID string            `gorm:"primaryKey;size:64"`
	ChallengeID string            `gorm:"size:64"`
	Method      ca.DeliveryMethod `gorm:"size:16"`
	CodeHash    string            `gorm:"size:64"`
	Attempts    int               `gorm:"default:0"`
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
}

func (ChallengeModel) TableName() string {
	return "challenges"
}

func (m *ChallengeModel) ToChallenge() *ca.Challenge {
	return &ca.Challenge{
		ID:          m.ChallengeID,
		PrincipalID: m.PrincipalID,
		Method:      m.Method,
		CodeHash:    m.CodeHash,
		Attempts:    m.Attempts,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
	}
}

func ChallengeToModel(c *ca.Challenge) *ChallengeModel {
	return &ChallengeModel{
		PrincipalID: c.PrincipalID,
		ChallengeID: c.ID,
		Method:      c.Method,
		CodeHash:    c.CodeHash,
		Attempts:    c.Attempts,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
	}
}

// ResetTokenModel is the GORM model for password reset tokens
type ResetTokenModel struct {
	TokenHash   string `gorm:"primaryKey;size:64"`
	PrincipalID string `gorm:"size:64;index"`
	Email       string `gorm:"size:320"`
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
	ConsumedAt  *time.Time
}

func (ResetTokenModel) TableName() string {
	return "reset_tokens"
}

func (m *ResetTokenModel) ToResetToken() *ca.ResetToken {
	return &ca.ResetToken{
		TokenHash:   m.TokenHash,
		PrincipalID: m.PrincipalID,
		Email:       m.Email,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		ConsumedAt:  m.ConsumedAt,
	}
}

func ResetTokenToModel(t *ca.ResetToken) *ResetTokenModel {
	return &ResetTokenModel{
		TokenHash:   t.TokenHash,
		PrincipalID: t.PrincipalID,
		Email:       t.Email,
		CreatedAt:   t.CreatedAt,
		ExpiresAt:   t.ExpiresAt,
		ConsumedAt:  t.ConsumedAt,
	}
}
