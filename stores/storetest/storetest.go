// Package storetest holds behavioral tests shared by every store backend.
// Each backend's own tests call these against a fresh, empty store.
package storetest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ca "github.com/panyam/campusauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewPrincipal returns an unsaved principal with unique id, username and email
func NewPrincipal(username string) *ca.Principal {
	id := uuid.NewString()
	return &ca.Principal{
		ID:           id,
		Username:     username + "-" + id[:6],
		Email:        username + "-" + id[:6] + "@example.edu",
		Role:         ca.RoleStudent,
		PasswordHash: "$2a$10$placeholder",
	}
}

// TestPrincipalStore checks lookups, uniqueness and credential updates
func TestPrincipalStore(t *testing.T, store ca.PrincipalStore) {
	ctx := context.Background()

	p := NewPrincipal("alice")
	p.TwoFactor = ca.TwoFactorConfig{Enabled: true, Method: ca.DeliverySMS}
	p.Phone = "+15550100"
	require.NoError(t, store.CreatePrincipal(ctx, p))

	t.Run("lookup by id, username and email", func(t *testing.T) {
		got, err := store.GetPrincipalByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Username, got.Username)
		assert.True(t, got.TwoFactor.Enabled)
		assert.Equal(t, ca.DeliverySMS, got.TwoFactor.Method)
		assert.Equal(t, "+15550100", got.Phone)

		got, err = store.GetPrincipalByUsername(ctx, p.Username)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)

		got, err = store.GetPrincipalByEmail(ctx, p.Email)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
	})

	t.Run("email lookup ignores case", func(t *testing.T) {
		got, err := store.GetPrincipalByEmail(ctx, "  "+strings.ToUpper(p.Email))
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
	})

	t.Run("missing principals are ErrNotFound", func(t *testing.T) {
		_, err := store.GetPrincipalByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ca.ErrNotFound)
		_, err = store.GetPrincipalByUsername(ctx, "nobody-"+uuid.NewString()[:6])
		assert.ErrorIs(t, err, ca.ErrNotFound)
		_, err = store.GetPrincipalByEmail(ctx, "nobody@nowhere.example")
		assert.ErrorIs(t, err, ca.ErrNotFound)
	})

	t.Run("duplicate username or email rejected", func(t *testing.T) {
		dup := NewPrincipal("dup")
		dup.Username = p.Username
		assert.ErrorIs(t, store.CreatePrincipal(ctx, dup), ca.ErrAlreadyExists)

		dup = NewPrincipal("dup")
		dup.Email = p.Email
		assert.ErrorIs(t, store.CreatePrincipal(ctx, dup), ca.ErrAlreadyExists)
	})

	t.Run("update password hash only", func(t *testing.T) {
		require.NoError(t, store.UpdatePasswordHash(ctx, p.ID, "$2a$10$newhash"))
		got, err := store.GetPrincipalByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "$2a$10$newhash", got.PasswordHash)
		assert.Equal(t, p.Email, got.Email)
		assert.True(t, got.TwoFactor.Enabled)

		assert.ErrorIs(t, store.UpdatePasswordHash(ctx, uuid.NewString(), "x"), ca.ErrNotFound)
	})
}

// TestLinkStore checks (provider, subject) uniqueness
func TestLinkStore(t *testing.T, store ca.LinkStore) {
	ctx := context.Background()
	principalID := uuid.NewString()
	subject := "gh-" + uuid.NewString()[:8]

	link := &ca.FederatedLink{Provider: "github", Subject: subject, PrincipalID: principalID, Email: "a@example.edu"}
	require.NoError(t, store.CreateLink(ctx, link))

	got, err := store.GetLink(ctx, "github", subject)
	require.NoError(t, err)
	assert.Equal(t, principalID, got.PrincipalID)

	_, err = store.GetLink(ctx, "google", subject)
	assert.ErrorIs(t, err, ca.ErrNotFound)

	err = store.CreateLink(ctx, &ca.FederatedLink{Provider: "github", Subject: subject, PrincipalID: uuid.NewString()})
	assert.ErrorIs(t, err, ca.ErrAlreadyExists)

	require.NoError(t, store.CreateLink(ctx, &ca.FederatedLink{Provider: "google", Subject: "g-" + subject, PrincipalID: principalID}))
	links, err := store.GetPrincipalLinks(ctx, principalID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func newChallenge(principalID string) *ca.Challenge {
	now := time.Now().UTC().Truncate(time.Second)
	return &ca.Challenge{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Method:      ca.DeliveryEmail,
		CodeHash:    ca.HashToken(uuid.NewString()),
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
}

// TestChallengeStore checks replace-invalidates, attempt counting and
// single-use deletion
func TestChallengeStore(t *testing.T, store ca.ChallengeStore) {
	ctx := context.Background()
	principalID := uuid.NewString()

	first := newChallenge(principalID)
	require.NoError(t, store.ReplaceChallenge(ctx, first))
	got, err := store.GetChallenge(ctx, principalID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.CodeHash, got.CodeHash)

	t.Run("replace supersedes", func(t *testing.T) {
		second := newChallenge(principalID)
		require.NoError(t, store.ReplaceChallenge(ctx, second))
		got, err := store.GetChallenge(ctx, principalID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)

		_, err = store.IncrementAttempts(ctx, principalID, first.ID)
		assert.ErrorIs(t, err, ca.ErrNotFound)
		deleted, err := store.DeleteChallenge(ctx, principalID, first.ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		n, err := store.IncrementAttempts(ctx, principalID, second.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = store.IncrementAttempts(ctx, principalID, second.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		deleted, err = store.DeleteChallenge(ctx, principalID, second.ID)
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = store.GetChallenge(ctx, principalID)
		assert.ErrorIs(t, err, ca.ErrNotFound)
	})

	t.Run("concurrent deletes have one winner", func(t *testing.T) {
		ch := newChallenge(principalID)
		require.NoError(t, store.ReplaceChallenge(ctx, ch))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.DeleteChallenge(ctx, principalID, ch.ID)
				if err == nil && ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

// TestResetTokenStore checks replace-invalidates and single consumption
func TestResetTokenStore(t *testing.T, store ca.ResetTokenStore) {
	ctx := context.Background()
	principalID := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Second)

	mk := func() *ca.ResetToken {
		return &ca.ResetToken{
			TokenHash:   ca.HashToken(uuid.NewString()),
			PrincipalID: principalID,
			Email:       "reset@example.edu",
			CreatedAt:   now,
			ExpiresAt:   now.Add(30 * time.Minute),
		}
	}

	first := mk()
	require.NoError(t, store.ReplaceResetToken(ctx, first))
	got, err := store.GetResetToken(ctx, first.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, principalID, got.PrincipalID)
	assert.False(t, got.IsConsumed())

	second := mk()
	require.NoError(t, store.ReplaceResetToken(ctx, second))
	_, err = store.GetResetToken(ctx, first.TokenHash)
	assert.ErrorIs(t, err, ca.ErrNotFound, "older token must be invalidated")

	ok, err := store.ConsumeResetToken(ctx, second.TokenHash, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.ConsumeResetToken(ctx, second.TokenHash, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = store.GetResetToken(ctx, second.TokenHash)
	if err == nil {
		assert.True(t, got.IsConsumed())
	} else {
		assert.ErrorIs(t, err, ca.ErrNotFound)
	}

	ok, err = store.ConsumeResetToken(ctx, ca.HashToken("unknown"), now)
	require.NoError(t, err)
	assert.False(t, ok)
}
