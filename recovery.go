package campusauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// DefaultResetWindow is how long a password reset link stays usable
const DefaultResetWindow = 30 * time.Minute

// ResetToken is a single-use credential replacement grant. Only the hash
// of the emailed token is stored.
type ResetToken struct {
	TokenHash   string     `json:"token_hash"`
	PrincipalID string     `json:"principal_id"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

func (t *ResetToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *ResetToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// ResetTokenStore keeps at most one live reset token per principal
type ResetTokenStore interface {
	// ReplaceResetToken removes every token of t.PrincipalID and installs t atomically
	ReplaceResetToken(ctx context.Context, t *ResetToken) error

	// GetResetToken looks a token up by hash, ErrNotFound if unknown
	GetResetToken(ctx context.Context, tokenHash string) (*ResetToken, error)

	// ConsumeResetToken marks the token used. Only the first caller gets true.
	ConsumeResetToken(ctx context.Context, tokenHash string, at time.Time) (bool, error)
}

// RecoveryCoordinator runs the forgot/reset password sub-flow
type RecoveryCoordinator struct {
	Principals  PrincipalStore
	ResetTokens ResetTokenStore
	Verifier    *CredentialVerifier
	Tokens      *TokenIssuer
	Dispatcher  Dispatcher

	// Base URL for the emailed link, e.g. https://campus.example.edu
	BaseURL string

	// Path of the reset form. Defaults to /auth/reset-password.
	ResetPath string

	Window          time.Duration
	DispatchTimeout time.Duration

	// Log the principal in right after a successful reset
	IssueSessionOnReset bool

	Now func() time.Time
}

func (r *RecoveryCoordinator) EnsureDefaults() *RecoveryCoordinator {
	if r.ResetPath == "" {
		r.ResetPath = "/auth/reset-password"
	}
	if r.Window <= 0 {
		r.Window = DefaultResetWindow
	}
	if r.DispatchTimeout <= 0 {
		r.DispatchTimeout = DefaultDispatchTimeout
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	return r
}

// RequestReset sends a reset link if the email belongs to a principal.
// The outcome is never revealed: unknown emails and delivery failures both
// return nil. Only store failures surface.
func (r *RecoveryCoordinator) RequestReset(ctx context.Context, email string) error {
	r.EnsureDefaults()
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	p, err := r.Principals.GetPrincipalByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		slog.Info("password reset requested for unknown email")
		return nil
	} else if err != nil {
		return fmt.Errorf("looking up principal: %w", err)
	}

	raw, err := GenerateSecureToken()
	if err != nil {
		return err
	}
	now := r.Now()
	token := &ResetToken{
		TokenHash:   HashToken(raw),
		PrincipalID: p.ID,
		Email:       p.Email,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.Window),
	}
	if err := r.ResetTokens.ReplaceResetToken(ctx, token); err != nil {
		return fmt.Errorf("storing reset token: %w", err)
	}

	link := fmt.Sprintf("%s%s?token=%s", strings.TrimSuffix(r.BaseURL, "/"), r.ResetPath, url.QueryEscape(raw))
	dctx, cancel := context.WithTimeout(ctx, r.DispatchTimeout)
	defer cancel()
	if err := r.Dispatcher.Dispatch(dctx, passwordResetMessage(p.Email, link, r.Window)); err != nil {
		slog.Warn("password reset dispatch failed", "principal", p.ID, "err", err)
		// withdraw the undelivered token so nothing valid is left unknown to the user
		if _, cerr := r.ResetTokens.ConsumeResetToken(ctx, token.TokenHash, now); cerr != nil {
			slog.Warn("could not withdraw reset token", "principal", p.ID, "err", cerr)
		}
	}
	return nil
}

// Redeem replaces the credential of the token's principal exactly once.
// The returned session token is empty unless IssueSessionOnReset is set and
// the principal has no second factor to pass.
func (r *RecoveryCoordinator) Redeem(ctx context.Context, rawToken, newSecret string) (*Principal, string, error) {
	r.EnsureDefaults()
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, "", ErrInvalidToken
	}
	hash := HashToken(rawToken)

	token, err := r.ResetTokens.GetResetToken(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, "", ErrInvalidToken
	} else if err != nil {
		return nil, "", fmt.Errorf("looking up reset token: %w", err)
	}
	if token.IsConsumed() {
		return nil, "", ErrInvalidToken
	}
	now := r.Now()
	if token.IsExpired(now) {
		return nil, "", ErrTokenExpired
	}

	// policy is checked before the token is spent
	if err := ValidateNewSecret(newSecret); err != nil {
		return nil, "", err
	}
	passwordHash, err := r.Verifier.HashSecret(newSecret)
	if err != nil {
		return nil, "", err
	}

	consumed, err := r.ResetTokens.ConsumeResetToken(ctx, hash, now)
	if err != nil {
		return nil, "", fmt.Errorf("consuming reset token: %w", err)
	}
	if !consumed {
		return nil, "", ErrInvalidToken
	}

	if err := r.Principals.UpdatePasswordHash(ctx, token.PrincipalID, passwordHash); err != nil {
		return nil, "", fmt.Errorf("failed to update password: %w", err)
	}
	slog.Info("password reset", "principal", token.PrincipalID)

	p, err := r.Principals.GetPrincipalByID(ctx, token.PrincipalID)
	if err != nil {
		return nil, "", err
	}
	if !r.IssueSessionOnReset || p.RequiresSecondFactor() {
		return p, "", nil
	}
	session, _, err := r.Tokens.IssueSession(p)
	if err != nil {
		return nil, "", err
	}
	return p, session, nil
}

// NormalizeEmail is the canonical form used for lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
