package fs

import (
	"context"
	"path/filepath"
	"sync"

	ca "github.com/panyam/campusauth"
)

// FSChallengeStore keeps each principal's outstanding second-factor
// challenge in challenges/{principal}.json. Because there is one file per
// principal, installing a new challenge replaces the old one in a single
// rename.
type FSChallengeStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewFSChallengeStore(storagePath string) *FSChallengeStore {
	return &FSChallengeStore{StoragePath: storagePath}
}

func (s *FSChallengeStore) challengePath(principalID string) string {
	return filepath.Join(s.StoragePath, "challenges", idKey(principalID)+".json")
}

func (s *FSChallengeStore) read(principalID string) (*ca.Challenge, error) {
	var ch ca.Challenge
	found, err := readJSONFile(s.challengePath(principalID), &ch)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ca.ErrNotFound
	}
	return &ch, nil
}

func (s *FSChallengeStore) ReplaceChallenge(ctx context.Context, c *ca.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONFile(s.challengePath(c.PrincipalID), c)
}

func (s *FSChallengeStore) GetChallenge(ctx context.Context, principalID string) (*ca.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(principalID)
}

func (s *FSChallengeStore) IncrementAttempts(ctx context.Context, principalID, challengeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.read(principalID)
	if err != nil {
		return 0, err
	}
	if ch.ID != challengeID {
		return 0, ca.ErrNotFound
	}
	ch.Attempts++
	if err := writeJSONFile(s.challengePath(principalID), ch); err != nil {
		return 0, err
	}
	return ch.Attempts, nil
}

func (s *FSChallengeStore) DeleteChallenge(ctx context.Context, principalID, challengeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, err := s.read(principalID)
	if err == ca.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if ch.ID != challengeID {
		return false, nil
	}
	if err := removeFile(s.challengePath(principalID)); err != nil {
		return false, err
	}
	return true, nil
}
