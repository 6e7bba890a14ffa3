package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultBasePath is where the server mounts its auth handlers
const DefaultBasePath = "/auth"

// AuthClient signs accounts in against one campusauth server and sends
// requests as whichever account is active
type AuthClient struct {
	mu       sync.Mutex
	origin   string
	basePath string
	store    SessionStore
	base     http.RoundTripper
	timeout  time.Duration
	hc       *http.Client
}

// User is the principal view returned by the server
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

// LoginResponse is the server's answer to a login, 2FA or reset request
type LoginResponse struct {
	Token       string `json:"token,omitempty"`
	TempToken   string `json:"temp_token,omitempty"`
	Requires2FA bool   `json:"requires2FA"`
	User        *User  `json:"user,omitempty"`
}

// Error is a non-2xx answer from the server
type Error struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	Field      string `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth request failed (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth request failed: HTTP %d", e.StatusCode)
}

// ErrNoSession is returned when a second-factor step is needed but the
// caller asked for a finished session
var ErrNoSession = errors.New("server did not return a session")

// Option configures an AuthClient
type Option func(*AuthClient)

// WithBasePath sets where the auth handlers are mounted. Defaults to "/auth".
func WithBasePath(path string) Option {
	return func(c *AuthClient) { c.basePath = path }
}

// WithTransport sets the round tripper the session header is added on top of
func WithTransport(rt http.RoundTripper) Option {
	return func(c *AuthClient) { c.base = rt }
}

// WithTimeout bounds every request, auth calls included
func WithTimeout(d time.Duration) Option {
	return func(c *AuthClient) { c.timeout = d }
}

// NewAuthClient creates a client for the server at serverURL. Only the
// origin of serverURL matters; paths are dropped.
func NewAuthClient(serverURL string, store SessionStore, opts ...Option) (*AuthClient, error) {
	origin, err := Origin(serverURL)
	if err != nil {
		return nil, err
	}
	c := &AuthClient{
		origin:   origin,
		basePath: DefaultBasePath,
		store:    store,
		base:     http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.hc = &http.Client{
		Transport: &storeTransport{client: c, base: c.base},
		Timeout:   c.timeout,
	}
	return c, nil
}

// HTTPClient sends requests as the active account
func (c *AuthClient) HTTPClient() *http.Client { return c.hc }

// Origin is the scheme://host sessions for this server are kept under
func (c *AuthClient) Origin() string { return c.origin }

// Token returns the active session token, or "" when no account is
// active or its session has expired
func (c *AuthClient) Token() (string, error) {
	s, err := c.Session()
	if err != nil || s == nil || s.Expired() {
		return "", err
	}
	return s.Token, nil
}

// Session returns the active account's session, expired or not
func (c *AuthClient) Session() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Active(c.origin)
}

// Accounts lists the accounts signed in to this server
func (c *AuthClient) Accounts() ([]string, error) {
	return c.store.Accounts(c.origin)
}

// SwitchAccount makes another signed-in account active
func (c *AuthClient) SwitchAccount(username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Switch(c.origin, username)
}

// Login authenticates with username and password. When the account has a
// second factor the response carries a temp token and nothing is stored;
// finish with VerifyTwoFactor.
func (c *AuthClient) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/login", map[string]string{"username": username, "password": password}, &resp); err != nil {
		return nil, err
	}
	if resp.Token != "" {
		if _, err := c.keep(&resp, username); err != nil {
			return nil, err
		}
	}
	return &resp, nil
}

// VerifyTwoFactor trades a temp token and code for a session, stores it
// and makes it active
func (c *AuthClient) VerifyTwoFactor(ctx context.Context, tempToken, code string) (*Session, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/2fa/verify", map[string]string{"temp_token": tempToken, "code": code}, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, ErrNoSession
	}
	return c.keep(&resp, "")
}

// RequestPasswordReset asks the server to mail a reset link. The server
// answers the same way whether or not the address is known.
func (c *AuthClient) RequestPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, "/forgot-password", map[string]string{"email": email}, nil)
}

// ResetPassword redeems a reset token. A returned session is stored; a
// temp token means a second factor is still required.
func (c *AuthClient) ResetPassword(ctx context.Context, token, newPassword string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.post(ctx, "/reset-password", map[string]string{"token": token, "password": newPassword}, &resp); err != nil {
		return nil, err
	}
	if resp.Token != "" {
		if _, err := c.keep(&resp, ""); err != nil {
			return nil, err
		}
	}
	return &resp, nil
}

// Logout forgets the active account. Other accounts stay signed in but
// none is active until SwitchAccount.
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.store.Active(c.origin)
	if err != nil || s == nil {
		return err
	}
	return c.store.Remove(c.origin, s.Username)
}

// IsLoggedIn reports whether an active account holds an unexpired session
func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.Token()
	return err == nil && token != ""
}

// forget drops the active account if it still holds token
func (c *AuthClient) forget(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.store.Active(c.origin)
	if err != nil || s == nil || s.Token != token {
		return
	}
	_ = c.store.Remove(c.origin, s.Username)
}

// keep stores the session from a successful response. The account is
// named by the server's user record, then the login name, then the
// token subject.
func (c *AuthClient) keep(resp *LoginResponse, loginName string) (*Session, error) {
	claims := tokenClaims(resp.Token)
	s := &Session{
		Token:       resp.Token,
		Username:    loginName,
		PrincipalID: claims.Subject,
		ExpiresAt:   time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	if u := resp.User; u != nil {
		s.PrincipalID = u.ID
		s.Email = u.Email
		s.Role = u.Role
		if u.Username != "" {
			s.Username = u.Username
		}
	}
	if s.Username == "" {
		s.Username = s.PrincipalID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(c.origin, s); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return s, nil
}

// tokenClaims reads the registered claims without verifying the
// signature; only the server checks tokens.
func tokenClaims(token string) jwt.RegisteredClaims {
	var claims jwt.RegisteredClaims
	_, _, _ = jwt.NewParser().ParseUnverified(token, &claims)
	return claims
}

// post sends a JSON request to an auth endpoint and decodes a 200 answer into out
func (c *AuthClient) post(ctx context.Context, path string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.origin+c.basePath+path, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Use base transport directly so auth calls never carry a stale session
	resp, err := (&http.Client{Transport: c.base, Timeout: c.timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &Error{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}
