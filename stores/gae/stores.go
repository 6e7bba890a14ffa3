//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ca "github.com/panyam/campusauth"
)

// Kind constants for Datastore entities
const (
	KindPrincipal         = "Principal"
	KindPrincipalUsername = "PrincipalUsername"
	KindPrincipalEmail    = "PrincipalEmail"
	KindFederatedLink     = "FederatedLink"
	KindChallenge         = "Challenge"
	KindResetToken        = "ResetToken"
	KindResetIndex        = "ResetIndex"
)

// base holds what every store needs to build namespaced keys
type base struct {
	client    *datastore.Client
	namespace string
}

func (s *base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *base) query(kind string) *datastore.Query {
	query := datastore.NewQuery(kind)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	return query
}

// ============================================================================
// PrincipalStore
// ============================================================================

// PrincipalStore implements ca.PrincipalStore using Google Cloud Datastore
type PrincipalStore struct {
	base
}

// NewPrincipalStore creates a new Datastore-backed PrincipalStore
func NewPrincipalStore(client *datastore.Client, namespace string) *PrincipalStore {
	return &PrincipalStore{base{client: client, namespace: namespace}}
}

func (s *PrincipalStore) usernameKey(username string) *datastore.Key {
	return s.namespacedKey(KindPrincipalUsername, strings.ToLower(strings.TrimSpace(username)))
}

func (s *PrincipalStore) emailKey(email string) *datastore.Key {
	return s.namespacedKey(KindPrincipalEmail, ca.NormalizeEmail(email))
}

func (s *PrincipalStore) GetPrincipalByID(ctx context.Context, id string) (*ca.Principal, error) {
	if id == "" {
		return nil, ca.ErrNotFound
	}
	var entity PrincipalEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindPrincipal, id), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, fmt.Errorf("principal %s: %w", id, ca.ErrNotFound)
		}
		return nil, err
	}
	return entity.ToPrincipal(), nil
}

func (s *PrincipalStore) GetPrincipalByUsername(ctx context.Context, username string) (*ca.Principal, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ca.ErrNotFound
	}
	return s.lookup(ctx, s.usernameKey(username))
}

func (s *PrincipalStore) GetPrincipalByEmail(ctx context.Context, email string) (*ca.Principal, error) {
	if ca.NormalizeEmail(email) == "" {
		return nil, ca.ErrNotFound
	}
	return s.lookup(ctx, s.emailKey(email))
}

func (s *PrincipalStore) lookup(ctx context.Context, key *datastore.Key) (*ca.Principal, error) {
	var idx IndexEntity
	if err := s.client.Get(ctx, key, &idx); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, fmt.Errorf("principal: %w", ca.ErrNotFound)
		}
		return nil, err
	}
	return s.GetPrincipalByID(ctx, idx.PrincipalID)
}

// CreatePrincipal writes the principal and its username/email index
// entities in one transaction
func (s *PrincipalStore) CreatePrincipal(ctx context.Context, p *ca.Principal) error {
	if p.ID == "" || p.Username == "" {
		return fmt.Errorf("principal id and username are required")
	}
	p.Email = ca.NormalizeEmail(p.Email)
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	principalKey := s.namespacedKey(KindPrincipal, p.ID)
	indexKeys := []*datastore.Key{s.usernameKey(p.Username)}
	if p.Email != "" {
		indexKeys = append(indexKeys, s.emailKey(p.Email))
	}

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing PrincipalEntity
		if err := tx.Get(principalKey, &existing); err == nil {
			return fmt.Errorf("principal %s: %w", p.ID, ca.ErrAlreadyExists)
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}

		keys := []*datastore.Key{principalKey}
		values := []any{PrincipalToEntity(p, principalKey)}
		for _, key := range indexKeys {
			var idx IndexEntity
			if err := tx.Get(key, &idx); err == nil {
				return fmt.Errorf("%s %q: %w", key.Kind, key.Name, ca.ErrAlreadyExists)
			} else if err != datastore.ErrNoSuchEntity {
				return err
			}
			keys = append(keys, key)
			values = append(values, &IndexEntity{PrincipalID: p.ID})
		}
		_, err := tx.PutMulti(keys, values)
		return err
	})
	return err
}

func (s *PrincipalStore) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	return s.update(ctx, id, func(e *PrincipalEntity) { e.PasswordHash = passwordHash })
}

// SetTwoFactor replaces a principal's second-factor configuration
func (s *PrincipalStore) SetTwoFactor(ctx context.Context, id string, cfg ca.TwoFactorConfig) error {
	return s.update(ctx, id, func(e *PrincipalEntity) {
		e.TwoFactorEnabled = cfg.Enabled
		e.TwoFactorMethod = string(cfg.Method)
		e.TwoFactorSecret = cfg.Secret
	})
}

func (s *PrincipalStore) update(ctx context.Context, id string, mutate func(e *PrincipalEntity)) error {
	key := s.namespacedKey(KindPrincipal, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity PrincipalEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return fmt.Errorf("principal %s: %w", id, ca.ErrNotFound)
			}
			return err
		}
		mutate(&entity)
		entity.UpdatedAt = time.Now()
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

// ============================================================================
// LinkStore
// ============================================================================

// LinkStore implements ca.LinkStore using Google Cloud Datastore
type LinkStore struct {
	base
}

// NewLinkStore creates a new Datastore-backed LinkStore
func NewLinkStore(client *datastore.Client, namespace string) *LinkStore {
	return &LinkStore{base{client: client, namespace: namespace}}
}

func (s *LinkStore) GetLink(ctx context.Context, provider, subject string) (*ca.FederatedLink, error) {
	var entity FederatedLinkEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindFederatedLink, ca.LinkKey(provider, subject)), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, fmt.Errorf("link %s: %w", ca.LinkKey(provider, subject), ca.ErrNotFound)
		}
		return nil, err
	}
	return entity.ToLink(), nil
}

func (s *LinkStore) CreateLink(ctx context.Context, link *ca.FederatedLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	key := s.namespacedKey(KindFederatedLink, ca.LinkKey(link.Provider, link.Subject))
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing FederatedLinkEntity
		err := tx.Get(key, &existing)
		if err == nil {
			return fmt.Errorf("link %s: %w", key.Name, ca.ErrAlreadyExists)
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}
		_, err = tx.Put(key, &FederatedLinkEntity{
			Key:         key,
			Provider:    link.Provider,
			Subject:     link.Subject,
			PrincipalID: link.PrincipalID,
			Email:       link.Email,
			CreatedAt:   link.CreatedAt,
		})
		return err
	})
	return err
}

func (s *LinkStore) GetPrincipalLinks(ctx context.Context, principalID string) ([]*ca.FederatedLink, error) {
	query := s.query(KindFederatedLink).FilterField("principal_id", "=", principalID)

	var links []*ca.FederatedLink
	it := s.client.Run(ctx, query)
	for {
		var entity FederatedLinkEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		links = append(links, entity.ToLink())
	}
	return links, nil
}

// ============================================================================
// ChallengeStore
// ============================================================================

// ChallengeStore implements ca.ChallengeStore using Google Cloud Datastore.
// Challenges are keyed by principal id, so a Put replaces the previous one.
type ChallengeStore struct {
	base
}

// NewChallengeStore creates a new Datastore-backed ChallengeStore
func NewChallengeStore(client *datastore.Client, namespace string) *ChallengeStore {
	return &ChallengeStore{base{client: client, namespace: namespace}}
}

func (s *ChallengeStore) ReplaceChallenge(ctx context.Context, c *ca.Challenge) error {
	key := s.namespacedKey(KindChallenge, c.PrincipalID)
	_, err := s.client.Put(ctx, key, &ChallengeEntity{
		Key:         key,
		ChallengeID: c.ID,
		Method:      string(c.Method),
		CodeHash:    c.CodeHash,
		Attempts:    c.Attempts,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
	})
	return err
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, principalID string) (*ca.Challenge, error) {
	var entity ChallengeEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindChallenge, principalID), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, fmt.Errorf("challenge: %w", ca.ErrNotFound)
		}
		return nil, err
	}
	return entity.ToChallenge(), nil
}

func (s *ChallengeStore) IncrementAttempts(ctx context.Context, principalID, challengeID string) (int, error) {
	key := s.namespacedKey(KindChallenge, principalID)
	var attempts int
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity ChallengeEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return fmt.Errorf("challenge: %w", ca.ErrNotFound)
			}
			return err
		}
		if entity.ChallengeID != challengeID {
			return fmt.Errorf("challenge %s: %w", challengeID, ca.ErrNotFound)
		}
		entity.Attempts++
		attempts = entity.Attempts
		_, err := tx.Put(key, &entity)
		return err
	})
	return attempts, err
}

func (s *ChallengeStore) DeleteChallenge(ctx context.Context, principalID, challengeID string) (bool, error) {
	key := s.namespacedKey(KindChallenge, principalID)
	var deleted bool
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		// reset on every retry
		deleted = false
		var entity ChallengeEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return nil
			}
			return err
		}
		if entity.ChallengeID != challengeID {
			return nil
		}
		deleted = true
		return tx.Delete(key)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ============================================================================
// ResetTokenStore
// ============================================================================

// ResetTokenStore implements ca.ResetTokenStore using Google Cloud Datastore
type ResetTokenStore struct {
	base
}

// NewResetTokenStore creates a new Datastore-backed ResetTokenStore
func NewResetTokenStore(client *datastore.Client, namespace string) *ResetTokenStore {
	return &ResetTokenStore{base{client: client, namespace: namespace}}
}

func (s *ResetTokenStore) ReplaceResetToken(ctx context.Context, t *ca.ResetToken) error {
	indexKey := s.namespacedKey(KindResetIndex, t.PrincipalID)
	tokenKey := s.namespacedKey(KindResetToken, t.TokenHash)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var idx ResetIndexEntity
		err := tx.Get(indexKey, &idx)
		if err == nil && idx.TokenHash != "" && idx.TokenHash != t.TokenHash {
			if err := tx.Delete(s.namespacedKey(KindResetToken, idx.TokenHash)); err != nil {
				return err
			}
		} else if err != nil && err != datastore.ErrNoSuchEntity {
			return err
		}
		entity := &ResetTokenEntity{
			Key:         tokenKey,
			PrincipalID: t.PrincipalID,
			Email:       t.Email,
			CreatedAt:   t.CreatedAt,
			ExpiresAt:   t.ExpiresAt,
		}
		_, err = tx.PutMulti(
			[]*datastore.Key{tokenKey, indexKey},
			[]any{entity, &ResetIndexEntity{TokenHash: t.TokenHash}},
		)
		return err
	})
	return err
}

func (s *ResetTokenStore) GetResetToken(ctx context.Context, tokenHash string) (*ca.ResetToken, error) {
	var entity ResetTokenEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindResetToken, tokenHash), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, fmt.Errorf("reset token: %w", ca.ErrNotFound)
		}
		return nil, err
	}
	return entity.ToResetToken(), nil
}

func (s *ResetTokenStore) ConsumeResetToken(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	key := s.namespacedKey(KindResetToken, tokenHash)
	var consumed bool
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		consumed = false
		var entity ResetTokenEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return nil
			}
			return err
		}
		if entity.Consumed {
			return nil
		}
		entity.Consumed = true
		entity.ConsumedAt = at
		consumed = true
		_, err := tx.Put(key, &entity)
		return err
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

// CleanupExpired deletes reset tokens that expired before cutoff
func (s *ResetTokenStore) CleanupExpired(ctx context.Context, cutoff time.Time) (int, error) {
	query := s.query(KindResetToken).FilterField("expires_at", "<", cutoff).KeysOnly()
	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.DeleteMulti(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
