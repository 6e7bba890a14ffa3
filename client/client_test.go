package client

import (
	"testing"
	"time"
)

func TestSession_Expiry(t *testing.T) {
	tests := []struct {
		name         string
		expiresAt    time.Time
		wantExpired  bool
		wantExpiring bool
	}{
		{"long lived", time.Now().Add(time.Hour), false, false},
		{"inside threshold", time.Now().Add(2 * time.Minute), false, true},
		{"just expired", time.Now().Add(-time.Second), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			if got := s.Expired(); got != tt.wantExpired {
				t.Errorf("Expired() = %v, want %v", got, tt.wantExpired)
			}
			if got := s.ExpiresWithin(5 * time.Minute); got != tt.wantExpiring {
				t.Errorf("ExpiresWithin() = %v, want %v", got, tt.wantExpiring)
			}
		})
	}
}

func TestOrigin(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://Campus.Example.edu/auth/login", "https://campus.example.edu", false},
		{"http://localhost:8080", "http://localhost:8080", false},
		{"campus.example.edu", "https://campus.example.edu", false},
		{"https://", "", true},
		{"http://bad host/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Origin(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Origin(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Origin(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewAuthClient_RejectsBadURL(t *testing.T) {
	if _, err := NewAuthClient("https://", NewMemoryStore()); err == nil {
		t.Error("expected an error for a URL without a host")
	}
}

// newTestClient builds a client for server backed by a fresh memory store
func newTestClient(t *testing.T, server string, opts ...Option) (*AuthClient, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	c, err := NewAuthClient(server, store, opts...)
	if err != nil {
		t.Fatalf("NewAuthClient() error = %v", err)
	}
	return c, store
}

func TestAuthClient_Token(t *testing.T) {
	const server = "http://campus.example:8080"
	tests := []struct {
		name    string
		session *Session
		want    string
	}{
		{"no session", nil, ""},
		{"valid", &Session{Token: "valid-token", Username: "alice", ExpiresAt: time.Now().Add(time.Hour)}, "valid-token"},
		{"expired", &Session{Token: "old-token", Username: "alice", ExpiresAt: time.Now().Add(-time.Hour)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, store := newTestClient(t, server+"/api/v1")
			if tt.session != nil {
				store.Put(server, tt.session)
			}

			token, err := client.Token()
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if token != tt.want {
				t.Errorf("Token() = %q, want %q", token, tt.want)
			}
			if got := client.IsLoggedIn(); got != (tt.want != "") {
				t.Errorf("IsLoggedIn() = %v", got)
			}
		})
	}
}

func TestAuthClient_SwitchAndLogout(t *testing.T) {
	const server = "https://campus.example.edu"
	client, store := newTestClient(t, server)
	store.Put(server, &Session{Token: "t-alice", Username: "alice", ExpiresAt: time.Now().Add(time.Hour)})
	store.Put(server, &Session{Token: "t-admin", Username: "admin", ExpiresAt: time.Now().Add(time.Hour)})

	if token, _ := client.Token(); token != "t-admin" {
		t.Fatalf("Token() = %q, want the last account stored", token)
	}
	if err := client.SwitchAccount("alice"); err != nil {
		t.Fatalf("SwitchAccount() error = %v", err)
	}
	if token, _ := client.Token(); token != "t-alice" {
		t.Errorf("Token() = %q after switch", token)
	}

	if err := client.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if client.IsLoggedIn() {
		t.Error("Logout() left an active account")
	}
	accounts, _ := client.Accounts()
	if len(accounts) != 1 || accounts[0] != "admin" {
		t.Errorf("Accounts() = %v, want [admin]", accounts)
	}
	if err := client.Logout(); err != nil {
		t.Errorf("Logout() with nothing active error = %v", err)
	}
}

func TestKeyring_Prune(t *testing.T) {
	var k Keyring
	k.Put("https://a.example", &Session{Username: "old", ExpiresAt: time.Now().Add(-time.Minute)})
	k.Put("https://b.example", &Session{Username: "live", ExpiresAt: time.Now().Add(time.Hour)})

	if !k.Prune() {
		t.Fatal("Prune() reported no change")
	}
	if _, ok := k.Servers["https://a.example"]; ok {
		t.Error("origin with only expired sessions should be dropped")
	}
	if k.Active("https://b.example") == nil {
		t.Error("live session was pruned")
	}
	if k.Prune() {
		t.Error("second Prune() should be a no-op")
	}
}
