package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	ca "github.com/panyam/campusauth"
	"github.com/panyam/campusauth/stores/fs"
	"github.com/panyam/campusauth/stores/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSPrincipalStore(t *testing.T) {
	storetest.TestPrincipalStore(t, fs.NewFSPrincipalStore(t.TempDir()))
}

func TestFSLinkStore(t *testing.T) {
	storetest.TestLinkStore(t, fs.NewFSLinkStore(t.TempDir()))
}

func TestFSChallengeStore(t *testing.T) {
	storetest.TestChallengeStore(t, fs.NewFSChallengeStore(t.TempDir()))
}

func TestFSResetTokenStore(t *testing.T) {
	storetest.TestResetTokenStore(t, fs.NewFSResetTokenStore(t.TempDir()))
}

func TestFSPrincipalStore_SetTwoFactor(t *testing.T) {
	store := fs.NewFSPrincipalStore(t.TempDir())
	ctx := context.Background()
	p := storetest.NewPrincipal("toggle")
	require.NoError(t, store.CreatePrincipal(ctx, p))

	require.NoError(t, store.SetTwoFactor(ctx, p.ID, ca.TwoFactorConfig{Enabled: true, Method: ca.DeliveryEmail}))
	got, err := store.GetPrincipalByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.RequiresSecondFactor())
}

func TestFSStorage_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	p := storetest.NewPrincipal("persist")
	require.NoError(t, fs.NewFSPrincipalStore(dir).CreatePrincipal(ctx, p))

	got, err := fs.NewFSPrincipalStore(dir).GetPrincipalByEmail(ctx, p.Email)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(dir, "principals"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFSResetTokenStore_CleanupExpired(t *testing.T) {
	store := fs.NewFSResetTokenStore(t.TempDir())
	ctx := context.Background()
	now := time.Now()

	old := &ca.ResetToken{TokenHash: ca.HashToken("old"), PrincipalID: "p1", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	live := &ca.ResetToken{TokenHash: ca.HashToken("live"), PrincipalID: "p2", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.ReplaceResetToken(ctx, old))
	require.NoError(t, store.ReplaceResetToken(ctx, live))

	removed, err := store.CleanupExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetResetToken(ctx, old.TokenHash)
	assert.ErrorIs(t, err, ca.ErrNotFound)
	_, err = store.GetResetToken(ctx, live.TokenHash)
	assert.NoError(t, err)
}
