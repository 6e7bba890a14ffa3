//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	ca "github.com/panyam/campusauth"
)

// AutoMigrate runs database migrations for all campusauth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PrincipalModel{},
		&FederatedLinkModel{},
		&ChallengeModel{},
		&ResetTokenModel{},
	)
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ca.ErrNotFound)
	}
	return err
}

// duplicate maps unique constraint violations to ca.ErrAlreadyExists.
// Requires gorm.Config{TranslateError: true} on dialects that support it.
func duplicate(err error, what string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", what, ca.ErrAlreadyExists)
	}
	return err
}

// =============================================================================
// PrincipalStore
// =============================================================================

// PrincipalStore implements ca.PrincipalStore using GORM
type PrincipalStore struct {
	db *gorm.DB
}

func NewPrincipalStore(db *gorm.DB) *PrincipalStore {
	return &PrincipalStore{db: db}
}

func (s *PrincipalStore) first(ctx context.Context, query string, arg any) (*ca.Principal, error) {
	var model PrincipalModel
	if err := s.db.WithContext(ctx).First(&model, query, arg).Error; err != nil {
		return nil, notFound(err, "principal")
	}
	return model.ToPrincipal(), nil
}

func (s *PrincipalStore) GetPrincipalByID(ctx context.Context, id string) (*ca.Principal, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *PrincipalStore) GetPrincipalByUsername(ctx context.Context, username string) (*ca.Principal, error) {
	return s.first(ctx, "username_key = ?", usernameKey(username))
}

func (s *PrincipalStore) GetPrincipalByEmail(ctx context.Context, email string) (*ca.Principal, error) {
	email = ca.NormalizeEmail(email)
	if email == "" {
		return nil, ca.ErrNotFound
	}
	return s.first(ctx, "email = ?", email)
}

// CreatePrincipal checks uniqueness inside the insert transaction. The
// unique indexes still catch races between servers.
func (s *PrincipalStore) CreatePrincipal(ctx context.Context, p *ca.Principal) error {
	if p.ID == "" || p.Username == "" {
		return fmt.Errorf("principal id and username are required")
	}
	model := PrincipalToModel(p)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		q := tx.Model(&PrincipalModel{}).Where("id = ? OR username_key = ?", model.ID, model.UsernameKey)
		if model.Email != nil {
			q = q.Or("email = ?", *model.Email)
		}
		if err := q.Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("principal %s: %w", p.Username, ca.ErrAlreadyExists)
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return duplicate(err, "principal "+p.Username)
	}
	p.Email = ca.NormalizeEmail(p.Email)
	p.CreatedAt = model.CreatedAt
	p.UpdatedAt = model.UpdatedAt
	return nil
}

func (s *PrincipalStore) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	return s.update(ctx, id, map[string]any{"password_hash": passwordHash})
}

// SetTwoFactor replaces a principal's second-factor configuration
func (s *PrincipalStore) SetTwoFactor(ctx context.Context, id string, cfg ca.TwoFactorConfig) error {
	return s.update(ctx, id, map[string]any{
		"two_factor_enabled": cfg.Enabled,
		"two_factor_method":  cfg.Method,
		"two_factor_secret":  cfg.Secret,
	})
}

func (s *PrincipalStore) update(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	result := s.db.WithContext(ctx).Model(&PrincipalModel{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("principal %s: %w", id, ca.ErrNotFound)
	}
	return nil
}

// =============================================================================
// LinkStore
// =============================================================================

// LinkStore implements ca.LinkStore using GORM
type LinkStore struct {
	db *gorm.DB
}

func NewLinkStore(db *gorm.DB) *LinkStore {
	return &LinkStore{db: db}
}

func (s *LinkStore) GetLink(ctx context.Context, provider, subject string) (*ca.FederatedLink, error) {
	var model FederatedLinkModel
	if err := s.db.WithContext(ctx).First(&model, "provider = ? AND subject = ?", provider, subject).Error; err != nil {
		return nil, notFound(err, "link "+ca.LinkKey(provider, subject))
	}
	return model.ToLink(), nil
}

func (s *LinkStore) CreateLink(ctx context.Context, link *ca.FederatedLink) error {
	model := LinkToModel(link)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&FederatedLinkModel{}).
			Where("provider = ? AND subject = ?", link.Provider, link.Subject).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("link %s: %w", ca.LinkKey(link.Provider, link.Subject), ca.ErrAlreadyExists)
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return duplicate(err, "link "+ca.LinkKey(link.Provider, link.Subject))
	}
	link.CreatedAt = model.CreatedAt
	return nil
}

func (s *LinkStore) GetPrincipalLinks(ctx context.Context, principalID string) ([]*ca.FederatedLink, error) {
	var models []FederatedLinkModel
	if err := s.db.WithContext(ctx).Where("principal_id = ?", principalID).Find(&models).Error; err != nil {
		return nil, err
	}

	links := make([]*ca.FederatedLink, len(models))
	for i, m := range models {
		links[i] = m.ToLink()
	}
	return links, nil
}

// =============================================================================
// ChallengeStore
// =============================================================================

// ChallengeStore implements ca.ChallengeStore using GORM
type ChallengeStore struct {
	db *gorm.DB
}

func NewChallengeStore(db *gorm.DB) *ChallengeStore {
	return &ChallengeStore{db: db}
}

func (s *ChallengeStore) ReplaceChallenge(ctx context.Context, c *ca.Challenge) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("principal_id = ?", c.PrincipalID).Delete(&ChallengeModel{}).Error; err != nil {
			return err
		}
		return tx.Create(ChallengeToModel(c)).Error
	})
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, principalID string) (*ca.Challenge, error) {
	var model ChallengeModel
	if err := s.db.WithContext(ctx).First(&model, "principal_id = ?", principalID).Error; err != nil {
		return nil, notFound(err, "challenge")
	}
	return model.ToChallenge(), nil
}

func (s *ChallengeStore) IncrementAttempts(ctx context.Context, principalID, challengeID string) (int, error) {
	var attempts int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ChallengeModel{}).
			Where("principal_id = ? AND challenge_id = ?", principalID, challengeID).
			UpdateColumn("attempts", gorm.Expr("attempts + ?", 1))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("challenge %s: %w", challengeID, ca.ErrNotFound)
		}
		var model ChallengeModel
		if err := tx.First(&model, "principal_id = ?", principalID).Error; err != nil {
			return notFound(err, "challenge")
		}
		attempts = model.Attempts
		return nil
	})
	return attempts, err
}

// DeleteChallenge is a conditional delete; the row count picks the single winner
func (s *ChallengeStore) DeleteChallenge(ctx context.Context, principalID, challengeID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("principal_id = ? AND challenge_id = ?", principalID, challengeID).
		Delete(&ChallengeModel{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// =============================================================================
// ResetTokenStore
// =============================================================================

// ResetTokenStore implements ca.ResetTokenStore using GORM
type ResetTokenStore struct {
	db *gorm.DB
}

func NewResetTokenStore(db *gorm.DB) *ResetTokenStore {
	return &ResetTokenStore{db: db}
}

func (s *ResetTokenStore) ReplaceResetToken(ctx context.Context, t *ca.ResetToken) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("principal_id = ?", t.PrincipalID).Delete(&ResetTokenModel{}).Error; err != nil {
			return err
		}
		return tx.Create(ResetTokenToModel(t)).Error
	})
}

func (s *ResetTokenStore) GetResetToken(ctx context.Context, tokenHash string) (*ca.ResetToken, error) {
	var model ResetTokenModel
	if err := s.db.WithContext(ctx).First(&model, "token_hash = ?", tokenHash).Error; err != nil {
		return nil, notFound(err, "reset token")
	}
	return model.ToResetToken(), nil
}

func (s *ResetTokenStore) ConsumeResetToken(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&ResetTokenModel{}).
		Where("token_hash = ? AND consumed_at IS NULL", tokenHash).
		UpdateColumn("consumed_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CleanupExpired deletes reset tokens and challenges that expired before cutoff
func (s *ResetTokenStore) CleanupExpired(ctx context.Context, cutoff time.Time) (int, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&ResetTokenModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	removed := int(result.RowsAffected)
	result = s.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&ChallengeModel{})
	if result.Error != nil {
		return removed, result.Error
	}
	return removed + int(result.RowsAffected), nil
}
