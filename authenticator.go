package campusauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Login methods reported to hooks
const (
	MethodLocal        = "local"
	MethodFederated    = "federated"
	MethodSecondFactor = "second_factor"
	MethodReset        = "password_reset"
)

// LoginResult is what a flow hands back. Exactly one of SessionToken and
// TempToken is set on success.
type LoginResult struct {
	SessionToken string          `json:"token,omitempty"`
	TempToken    string          `json:"temp_token,omitempty"`
	Requires2FA  bool            `json:"requires2FA,omitempty"`
	Principal    PublicPrincipal `json:"user"`

	// Set by federated logins
	FederationState FederationState `json:"-"`
}

// Authenticator sequences the verifier, broker, challenger, recovery
// coordinator and token issuer into the public entry flows.
type Authenticator struct {
	Verifier   *CredentialVerifier
	Tokens     *TokenIssuer
	Federation *FederationBroker
	TwoFactor  *SecondFactorChallenger
	Recovery   *RecoveryCoordinator

	// Skip the second factor for federated logins, trusting the provider.
	// Off by default so the rule is the same on every entry path.
	TrustFederatedLogins bool

	// Optional hooks, e.g. for metrics
	OnLoginSuccess func(principalID, method string)
	OnLoginFailure func(identifier, method string, err error)
}

// AuthenticatorConfig holds everything needed to assemble an Authenticator
type AuthenticatorConfig struct {
	Principals  PrincipalStore
	Links       LinkStore
	Challenges  ChallengeStore
	ResetTokens ResetTokenStore
	Dispatcher  Dispatcher
	Tokens      TokenConfig
	Providers   []IdentityProvider

	// Base URL used in reset links
	BaseURL string

	TrustFederatedLogins bool
}

// NewAuthenticator wires the components with their defaults
func NewAuthenticator(config AuthenticatorConfig) (*Authenticator, error) {
	tokens, err := NewTokenIssuer(config.Tokens)
	if err != nil {
		return nil, err
	}
	if config.Dispatcher == nil {
		config.Dispatcher = &ConsoleDispatcher{}
	}
	verifier := NewCredentialVerifier(config.Principals)
	a := &Authenticator{
		Verifier:   verifier,
		Tokens:     tokens,
		Federation: NewFederationBroker(config.Principals, config.Links, config.Providers...),
		TwoFactor: (&SecondFactorChallenger{
			Principals: config.Principals,
			Challenges: config.Challenges,
			Tokens:     tokens,
			Dispatcher: config.Dispatcher,
		}).EnsureDefaults(),
		Recovery: (&RecoveryCoordinator{
			Principals:          config.Principals,
			ResetTokens:         config.ResetTokens,
			Verifier:            verifier,
			Tokens:              tokens,
			Dispatcher:          config.Dispatcher,
			BaseURL:             config.BaseURL,
			IssueSessionOnReset: true,
		}).EnsureDefaults(),
		TrustFederatedLogins: config.TrustFederatedLogins,
	}
	return a, nil
}

// LoginLocal checks a username/password. Principals with a second factor
// get a temporary token instead of a session.
func (a *Authenticator) LoginLocal(ctx context.Context, username, secret string) (*LoginResult, error) {
	p, err := a.Verifier.Verify(ctx, username, secret)
	if err != nil {
		a.failed(username, MethodLocal, err)
		return nil, err
	}
	res, err := a.complete(ctx, p, true)
	if err != nil {
		a.failed(username, MethodLocal, err)
		return nil, err
	}
	a.succeeded(res, MethodLocal)
	return res, nil
}

// LoginFederated resolves a normalized provider profile and logs the
// principal in, applying the second factor unless TrustFederatedLogins.
func (a *Authenticator) LoginFederated(ctx context.Context, profile *ProviderProfile) (*LoginResult, error) {
	fed, err := a.Federation.Resolve(ctx, profile)
	if err != nil {
		ident := ""
		if profile != nil {
			ident = LinkKey(profile.Provider, profile.Subject)
		}
		a.failed(ident, MethodFederated, err)
		return nil, err
	}
	res, err := a.complete(ctx, fed.Principal, !a.TrustFederatedLogins)
	if err != nil {
		a.failed(fed.Principal.Username, MethodFederated, err)
		return nil, err
	}
	res.FederationState = fed.State
	a.succeeded(res, MethodFederated)
	return res, nil
}

// VerifyTwoFactor exchanges a temporary token plus code for a session
func (a *Authenticator) VerifyTwoFactor(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	p, session, err := a.TwoFactor.VerifyCode(ctx, tempToken, code)
	if err != nil {
		a.failed("", MethodSecondFactor, err)
		return nil, err
	}
	res := &LoginResult{SessionToken: session, Principal: p.Public()}
	a.succeeded(res, MethodSecondFactor)
	return res, nil
}

// RequestPasswordReset never reveals whether the email is registered
func (a *Authenticator) RequestPasswordReset(ctx context.Context, email string) error {
	return a.Recovery.RequestReset(ctx, email)
}

// ResetPassword redeems a reset token. When the principal has a second
// factor the result carries a temporary token rather than a session.
func (a *Authenticator) ResetPassword(ctx context.Context, token, newSecret string) (*LoginResult, error) {
	p, session, err := a.Recovery.Redeem(ctx, token, newSecret)
	if err != nil {
		a.failed("", MethodReset, err)
		return nil, err
	}
	if session != "" {
		res := &LoginResult{SessionToken: session, Principal: p.Public()}
		a.succeeded(res, MethodReset)
		return res, nil
	}
	if !a.Recovery.IssueSessionOnReset {
		return &LoginResult{Principal: p.Public()}, nil
	}
	res, err := a.complete(ctx, p, true)
	if err != nil {
		return nil, err
	}
	a.succeeded(res, MethodReset)
	return res, nil
}

// complete issues either a temp token (second factor pending) or a session
func (a *Authenticator) complete(ctx context.Context, p *Principal, applySecondFactor bool) (*LoginResult, error) {
	if applySecondFactor && p.RequiresSecondFactor() {
		temp, err := a.TwoFactor.IssueCode(ctx, p)
		if err == nil {
			return &LoginResult{TempToken: temp, Requires2FA: true, Principal: p.Public()}, nil
		}
		if !errors.Is(err, ErrTwoFactorDisabled) {
			return nil, err
		}
	}
	session, _, err := a.Tokens.IssueSession(p)
	if err != nil {
		return nil, fmt.Errorf("issuing session: %w", err)
	}
	return &LoginResult{SessionToken: session, Principal: p.Public()}, nil
}

func (a *Authenticator) succeeded(res *LoginResult, method string) {
	if res.Requires2FA {
		slog.Info("first factor passed, awaiting second factor", "principal", res.Principal.ID, "method", method)
		return
	}
	slog.Info("login succeeded", "principal", res.Principal.ID, "method", method)
	if a.OnLoginSuccess != nil {
		a.OnLoginSuccess(res.Principal.ID, method)
	}
}

func (a *Authenticator) failed(identifier, method string, err error) {
	slog.Info("login failed", "method", method, "err", err)
	if a.OnLoginFailure != nil {
		a.OnLoginFailure(identifier, method, err)
	}
}
