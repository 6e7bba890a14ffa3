package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	ca "github.com/panyam/campusauth"
)

// FSLinkStore stores federated links as JSON files, one per provider subject
type FSLinkStore struct {
	StoragePath string
	mu          sync.RWMutex
}

func NewFSLinkStore(storagePath string) *FSLinkStore {
	return &FSLinkStore{StoragePath: storagePath}
}

func (s *FSLinkStore) linksDir() string {
	return filepath.Join(s.StoragePath, "links")
}

func (s *FSLinkStore) linkPath(provider, subject string) string {
	return filepath.Join(s.linksDir(), fileKey(ca.LinkKey(provider, subject))+".json")
}

func (s *FSLinkStore) GetLink(ctx context.Context, provider, subject string) (*ca.FederatedLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var link ca.FederatedLink
	found, err := readJSONFile(s.linkPath(provider, subject), &link)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ca.ErrNotFound
	}
	return &link, nil
}

func (s *FSLinkStore) CreateLink(ctx context.Context, link *ca.FederatedLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.linkPath(link.Provider, link.Subject)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("link %s: %w", ca.LinkKey(link.Provider, link.Subject), ca.ErrAlreadyExists)
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	return writeJSONFile(path, link)
}

func (s *FSLinkStore) GetPrincipalLinks(ctx context.Context, principalID string) ([]*ca.FederatedLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.linksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*ca.FederatedLink{}, nil
		}
		return nil, err
	}

	links := []*ca.FederatedLink{}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.linksDir(), entry.Name()))
		if err != nil {
			continue
		}
		var link ca.FederatedLink
		if err := json.Unmarshal(data, &link); err != nil {
			continue
		}
		if link.PrincipalID == principalID {
			links = append(links, &link)
		}
	}
	return links, nil
}
