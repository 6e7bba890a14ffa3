package client

import (
	"fmt"
	"slices"
	"sync"
)

// Keyring is the plain-data form of a SessionStore. It is not safe for
// concurrent use; stores guard it with their own lock.
type Keyring struct {
	Servers map[string]*ServerAccounts `json:"servers"`
}

// ServerAccounts holds the sessions for one origin
type ServerAccounts struct {
	Active   string              `json:"active,omitempty"`
	Sessions map[string]*Session `json:"sessions"`
}

func (k *Keyring) server(origin string, create bool) *ServerAccounts {
	if k.Servers == nil {
		if !create {
			return nil
		}
		k.Servers = make(map[string]*ServerAccounts)
	}
	sa := k.Servers[origin]
	if sa == nil && create {
		sa = &ServerAccounts{Sessions: make(map[string]*Session)}
		k.Servers[origin] = sa
	}
	return sa
}

func (k *Keyring) Active(origin string) *Session {
	sa := k.server(origin, false)
	if sa == nil || sa.Active == "" {
		return nil
	}
	return sa.Sessions[sa.Active]
}

func (k *Keyring) Put(origin string, s *Session) error {
	if s == nil || s.Username == "" {
		return fmt.Errorf("session for %s has no username", origin)
	}
	sa := k.server(origin, true)
	sa.Sessions[s.Username] = s
	sa.Active = s.Username
	return nil
}

func (k *Keyring) Remove(origin, username string) {
	sa := k.server(origin, false)
	if sa == nil {
		return
	}
	delete(sa.Sessions, username)
	if sa.Active == username {
		sa.Active = ""
	}
	if len(sa.Sessions) == 0 {
		delete(k.Servers, origin)
	}
}

func (k *Keyring) Switch(origin, username string) error {
	sa := k.server(origin, false)
	if sa == nil {
		return fmt.Errorf("%w: %s on %s", ErrUnknownAccount, username, origin)
	}
	s := sa.Sessions[username]
	if s == nil || s.Expired() {
		return fmt.Errorf("%w: %s on %s", ErrUnknownAccount, username, origin)
	}
	sa.Active = username
	return nil
}

func (k *Keyring) Accounts(origin string) []string {
	sa := k.server(origin, false)
	if sa == nil {
		return nil
	}
	var names []string
	for name, s := range sa.Sessions {
		if !s.Expired() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Prune drops expired sessions and reports whether anything changed.
// Sessions cannot be refreshed, so an expired one is never useful again.
func (k *Keyring) Prune() bool {
	changed := false
	for origin, sa := range k.Servers {
		for name, s := range sa.Sessions {
			if s == nil || s.Expired() {
				k.Remove(origin, name)
				changed = true
			}
		}
	}
	return changed
}

// MemoryStore is a SessionStore that lives as long as the process
type MemoryStore struct {
	mu   sync.Mutex
	ring Keyring
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Active(origin string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Active(origin), nil
}

func (m *MemoryStore) Put(origin string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Put(origin, s)
}

func (m *MemoryStore) Remove(origin, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring.Remove(origin, username)
	return nil
}

func (m *MemoryStore) Switch(origin, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Switch(origin, username)
}

func (m *MemoryStore) Accounts(origin string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Accounts(origin), nil
}
