package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	ca "github.com/panyam/campusauth"
)

// FSResetTokenStore stores password reset tokens by hash, with a per
// principal pointer to the live one so a new request can invalidate it.
//
//	{StoragePath}/
//	├── reset_tokens/{hash}.json
//	└── reset_index/{principal}.json   # {"token_hash": ...}
type FSResetTokenStore struct {
	StoragePath string
	mu          sync.Mutex
}

type resetIndex struct {
	TokenHash string `json:"token_hash"`
}

func NewFSResetTokenStore(storagePath string) *FSResetTokenStore {
	return &FSResetTokenStore{StoragePath: storagePath}
}

func (s *FSResetTokenStore) tokenPath(hash string) string {
	return filepath.Join(s.StoragePath, "reset_tokens", idKey(hash)+".json")
}

func (s *FSResetTokenStore) indexPath(principalID string) string {
	return filepath.Join(s.StoragePath, "reset_index", idKey(principalID)+".json")
}

func (s *FSResetTokenStore) read(hash string) (*ca.ResetToken, error) {
	var t ca.ResetToken
	found, err := readJSONFile(s.tokenPath(hash), &t)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ca.ErrNotFound
	}
	return &t, nil
}

func (s *FSResetTokenStore) ReplaceResetToken(ctx context.Context, t *ca.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx resetIndex
	if found, err := readJSONFile(s.indexPath(t.PrincipalID), &idx); err != nil {
		return err
	} else if found && idx.TokenHash != "" {
		if err := removeFile(s.tokenPath(idx.TokenHash)); err != nil {
			return err
		}
	}
	if err := writeJSONFile(s.tokenPath(t.TokenHash), t); err != nil {
		return err
	}
	return writeJSONFile(s.indexPath(t.PrincipalID), resetIndex{TokenHash: t.TokenHash})
}

func (s *FSResetTokenStore) GetResetToken(ctx context.Context, tokenHash string) (*ca.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(tokenHash)
}

func (s *FSResetTokenStore) ConsumeResetToken(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.read(tokenHash)
	if err == ca.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if t.IsConsumed() {
		return false, nil
	}
	t.ConsumedAt = &at
	if err := writeJSONFile(s.tokenPath(tokenHash), t); err != nil {
		return false, err
	}
	return true, nil
}

// CleanupExpired removes tokens that expired before the cutoff. Expiry is
// otherwise lazy; call this from a periodic job if disk use matters.
func (s *FSResetTokenStore) CleanupExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Join(s.StoragePath, "reset_tokens")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var t ca.ResetToken
		path := filepath.Join(dir, entry.Name())
		if found, err := readJSONFile(path, &t); err != nil || !found {
			continue
		}
		if t.ExpiresAt.Before(cutoff) {
			if err := removeFile(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
