package fs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ca "github.com/panyam/campusauth"
)

// indexEntry maps a unique attribute to the principal holding it
type indexEntry struct {
	PrincipalID string `json:"principal_id"`
}

// FSPrincipalStore implements ca.PrincipalStore using filesystem storage.
//
// # File Structure
//
//	{StoragePath}/
//	├── principals/{id}.json          # full principal record
//	├── usernames/{hash}.json         # {"principal_id": ...}, lowercase username
//	└── emails/{hash}.json            # {"principal_id": ...}, normalized email
//
// # Concurrency Model
//
// A process-wide mutex serializes writers, so uniqueness checks and the
// index writes that follow are atomic within one process. Each file is
// replaced with an atomic rename, so readers never see partial records.
type FSPrincipalStore struct {
	StoragePath string
	mu          sync.RWMutex
}

func NewFSPrincipalStore(storagePath string) *FSPrincipalStore {
	return &FSPrincipalStore{StoragePath: storagePath}
}

func (s *FSPrincipalStore) principalPath(id string) string {
	return filepath.Join(s.StoragePath, "principals", idKey(id)+".json")
}

func (s *FSPrincipalStore) usernamePath(username string) string {
	return filepath.Join(s.StoragePath, "usernames", fileKey(strings.ToLower(strings.TrimSpace(username)))+".json")
}

func (s *FSPrincipalStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", fileKey(ca.NormalizeEmail(email))+".json")
}

func (s *FSPrincipalStore) GetPrincipalByID(ctx context.Context, id string) (*ca.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readPrincipal(id)
}

func (s *FSPrincipalStore) GetPrincipalByUsername(ctx context.Context, username string) (*ca.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.usernamePath(username))
}

func (s *FSPrincipalStore) GetPrincipalByEmail(ctx context.Context, email string) (*ca.Principal, error) {
	if ca.NormalizeEmail(email) == "" {
		return nil, ca.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.emailPath(email))
}

func (s *FSPrincipalStore) lookup(indexPath string) (*ca.Principal, error) {
	var entry indexEntry
	found, err := readJSONFile(indexPath, &entry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ca.ErrNotFound
	}
	return s.readPrincipal(entry.PrincipalID)
}

func (s *FSPrincipalStore) readPrincipal(id string) (*ca.Principal, error) {
	if id == "" {
		return nil, ca.ErrNotFound
	}
	var p ca.Principal
	found, err := readJSONFile(s.principalPath(id), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ca.ErrNotFound
	}
	return &p, nil
}

// CreatePrincipal fails with ca.ErrAlreadyExists if the id, username or
// email is taken
func (s *FSPrincipalStore) CreatePrincipal(ctx context.Context, p *ca.Principal) error {
	if p.ID == "" || p.Username == "" {
		return fmt.Errorf("principal id and username are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing indexEntry
	if found, err := readJSONFile(s.usernamePath(p.Username), &existing); err != nil {
		return err
	} else if found {
		return fmt.Errorf("username %q: %w", p.Username, ca.ErrAlreadyExists)
	}
	if p.Email != "" {
		if found, err := readJSONFile(s.emailPath(p.Email), &existing); err != nil {
			return err
		} else if found {
			return fmt.Errorf("email: %w", ca.ErrAlreadyExists)
		}
	}
	if _, err := s.readPrincipal(p.ID); err == nil {
		return fmt.Errorf("principal %s: %w", p.ID, ca.ErrAlreadyExists)
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Email = ca.NormalizeEmail(p.Email)

	// record before indexes so no index points at a missing principal
	if err := writeJSONFile(s.principalPath(p.ID), p); err != nil {
		return err
	}
	if err := writeJSONFile(s.usernamePath(p.Username), indexEntry{PrincipalID: p.ID}); err != nil {
		return err
	}
	if p.Email != "" {
		if err := writeJSONFile(s.emailPath(p.Email), indexEntry{PrincipalID: p.ID}); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSPrincipalStore) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	return s.update(id, func(p *ca.Principal) { p.PasswordHash = passwordHash })
}

// SetTwoFactor replaces a principal's second-factor configuration. This is
// the administrative toggle; the auth flows never call it.
func (s *FSPrincipalStore) SetTwoFactor(ctx context.Context, id string, cfg ca.TwoFactorConfig) error {
	return s.update(id, func(p *ca.Principal) { p.TwoFactor = cfg })
}

func (s *FSPrincipalStore) update(id string, mutate func(p *ca.Principal)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.readPrincipal(id)
	if err != nil {
		return err
	}
	mutate(p)
	p.UpdatedAt = time.Now()
	return writeJSONFile(s.principalPath(id), p)
}
