// Package fs keeps campusauth client sessions in a JSON file under the
// user's config directory, readable only by the user.
package fs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/panyam/campusauth/client"
	"github.com/panyam/campusauth/internal/fileutil"
)

// SessionFile is a client.SessionStore backed by one JSON file. Every
// change is written through before the call returns.
type SessionFile struct {
	mu   sync.Mutex
	path string
	ring client.Keyring
}

// DefaultPath is <config dir>/<appName>/sessions.json
func DefaultPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "campusauth"
	}
	return filepath.Join(dir, appName, "sessions.json"), nil
}

// Open loads the session file at path, or DefaultPath("campusauth") when
// path is empty. A missing file is an empty keyring. Expired sessions are
// dropped on load.
func Open(path string) (*SessionFile, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(""); err != nil {
			return nil, err
		}
	}
	f := &SessionFile{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	} else if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &f.ring); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", path, err)
	}
	if f.ring.Prune() {
		if err := f.flush(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Path is where the sessions are kept
func (f *SessionFile) Path() string { return f.path }

func (f *SessionFile) Active(origin string) (*client.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ring.Active(origin), nil
}

func (f *SessionFile) Accounts(origin string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ring.Accounts(origin), nil
}

func (f *SessionFile) Put(origin string, s *client.Session) error {
	return f.update(func(r *client.Keyring) error { return r.Put(origin, s) })
}

func (f *SessionFile) Remove(origin, username string) error {
	return f.update(func(r *client.Keyring) error {
		r.Remove(origin, username)
		return nil
	})
}

func (f *SessionFile) Switch(origin, username string) error {
	return f.update(func(r *client.Keyring) error { return r.Switch(origin, username) })
}

// update applies change and writes the result. A failed write leaves the
// in-memory keyring as it was on disk.
func (f *SessionFile) update(change func(r *client.Keyring) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	before, err := json.Marshal(&f.ring)
	if err != nil {
		return err
	}
	if err := change(&f.ring); err != nil {
		return err
	}
	if err := f.flush(); err != nil {
		f.ring = client.Keyring{}
		_ = json.Unmarshal(before, &f.ring)
		return err
	}
	return nil
}

// flush writes the keyring; caller holds f.mu
func (f *SessionFile) flush() error {
	data, err := json.MarshalIndent(&f.ring, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize sessions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := fileutil.WriteAtomic(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	return nil
}
