//go:build !wasm
// +build !wasm

package gae_test

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/panyam/campusauth/stores/gae"
	"github.com/panyam/campusauth/stores/storetest"
)

// newClient connects to the Datastore emulator; tests are skipped without one.
// Start it with: gcloud beta emulators datastore start
func newClient(t *testing.T) (*datastore.Client, string) {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "campusauth-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	// fresh namespace per test keeps runs independent
	return client, "test-" + uuid.NewString()[:8]
}

func TestGAEPrincipalStore(t *testing.T) {
	client, ns := newClient(t)
	storetest.TestPrincipalStore(t, gae.NewPrincipalStore(client, ns))
}

func TestGAELinkStore(t *testing.T) {
	client, ns := newClient(t)
	storetest.TestLinkStore(t, gae.NewLinkStore(client, ns))
}

func TestGAEChallengeStore(t *testing.T) {
	client, ns := newClient(t)
	storetest.TestChallengeStore(t, gae.NewChallengeStore(client, ns))
}

func TestGAEResetTokenStore(t *testing.T) {
	client, ns := newClient(t)
	storetest.TestResetTokenStore(t, gae.NewResetTokenStore(client, ns))
}
