// Package client provides client-side helpers for campusauth servers:
// login with optional second factor, a keyring of signed-in accounts per
// server, and an HTTP client that attaches the active session.
package client

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrUnknownAccount is returned when switching to an account that has no
// live session on the server
var ErrUnknownAccount = errors.New("no stored session for account")

// Session is one signed-in account on one server
type Session struct {
	Token       string    `json:"token"`
	Username    string    `json:"username"`
	PrincipalID string    `json:"principal_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the server will refuse the token
func (s *Session) Expired() bool {
	return !time.Now().Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the token lapses in the next d
func (s *Session) ExpiresWithin(d time.Duration) bool {
	return time.Now().Add(d).After(s.ExpiresAt)
}

// Origin reduces a server URL to the scheme://host[:port] sessions are
// kept under. A bare host gets https.
func Origin(serverURL string) (string, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "https://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: no host", serverURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// SessionStore keeps sessions per server origin and username, with at most
// one active account per origin. Missing sessions read as nil, nil.
type SessionStore interface {
	// Active returns the session requests to origin should carry
	Active(origin string) (*Session, error)

	// Put stores s under its username and makes it the active account
	Put(origin string, s *Session) error

	// Remove forgets username on origin. Removing the active account
	// leaves none active.
	Remove(origin, username string) error

	// Switch makes a stored, unexpired account active
	Switch(origin, username string) error

	// Accounts lists the usernames with live sessions on origin, sorted
	Accounts(origin string) ([]string, error)
}
