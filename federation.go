package campusauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Supported identity providers
const (
	ProviderGoogle    = "google"
	ProviderGitHub    = "github"
	ProviderFacebook  = "facebook"
	ProviderMicrosoft = "microsoft"
)

// FederationState is where a federated login ends up
type FederationState string

const (
	StateAuthorizationRequested FederationState = "authorization_requested"
	StateCallbackReceived       FederationState = "callback_received"
	StateLinked                 FederationState = "linked"      // existing link
	StateMerged                 FederationState = "merged"      // new link onto a principal found by email
	StateProvisioned            FederationState = "provisioned" // new principal and link
	StateFailed                 FederationState = "failed"
)

// ProviderProfile is a provider's user info normalized to the local shape
type ProviderProfile struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Picture  string `json:"picture,omitempty"`
}

// IdentityProvider drives the redirect handshake with one external provider.
// Implementations live in the oauth2 package.
type IdentityProvider interface {
	Name() string

	// AuthCodeURL is where the browser is sent, carrying the anti-forgery state
	AuthCodeURL(state string) string

	// Exchange trades the callback code for the provider's normalized profile
	Exchange(ctx context.Context, code string) (*ProviderProfile, error)
}

// FederationResult is the outcome of resolving a provider profile
type FederationResult struct {
	State     FederationState
	Principal *Principal
	Link      *FederatedLink
}

// FederationBroker maps provider identities onto local principals
type FederationBroker struct {
	Principals PrincipalStore
	Links      LinkStore
	Providers  map[string]IdentityProvider

	Now func() time.Time

	inflight singleflight.Group
}

func NewFederationBroker(principals PrincipalStore, links LinkStore, providers ...IdentityProvider) *FederationBroker {
	b := &FederationBroker{
		Principals: principals,
		Links:      links,
		Providers:  make(map[string]IdentityProvider),
	}
	for _, p := range providers {
		b.Providers[p.Name()] = p
	}
	return b
}

func (b *FederationBroker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *FederationBroker) provider(name string) (IdentityProvider, error) {
	p, ok := b.Providers[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Initiate returns the provider's authorization URL. No local state is created.
func (b *FederationBroker) Initiate(provider, state string) (string, error) {
	p, err := b.provider(provider)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

// Exchange completes the provider side of the handshake
func (b *FederationBroker) Exchange(ctx context.Context, provider, code string) (*ProviderProfile, error) {
	p, err := b.provider(provider)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrProviderFailure)
	}
	profile, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	profile.Provider = provider
	return profile, nil
}

// Resolve moves a received provider profile to Linked, Merged or
// Provisioned. Replays of the same profile resolve to the same principal;
// concurrent replays share one resolution, which outlives any single
// caller's cancellation.
func (b *FederationBroker) Resolve(ctx context.Context, profile *ProviderProfile) (*FederationResult, error) {
	if profile == nil || profile.Provider == "" || profile.Subject == "" {
		return nil, fmt.Errorf("%w: incomplete provider profile", ErrProviderFailure)
	}
	key := LinkKey(profile.Provider, profile.Subject)
	shared := context.WithoutCancel(ctx)
	ch := b.inflight.DoChan(key, func() (any, error) {
		return b.resolve(shared, profile)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*FederationResult), nil
	}
}

func (b *FederationBroker) resolve(ctx context.Context, profile *ProviderProfile) (*FederationResult, error) {
	if res, err := b.resolveLinked(ctx, profile); res != nil || err != nil {
		return res, err
	}

	email := NormalizeEmail(profile.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: provider %s returned no email", ErrProviderFailure, profile.Provider)
	}

	state := StateMerged
	p, err := b.Principals.GetPrincipalByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		state, p, err = b.provisionOrMerge(ctx, profile, email)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving principal for %s: %w", profile.Provider, err)
	}
	if state == StateMerged {
		if err := b.checkProviderFree(ctx, p, profile); err != nil {
			return nil, err
		}
	}

	link := &FederatedLink{
		Provider:    profile.Provider,
		Subject:     profile.Subject,
		PrincipalID: p.ID,
		Email:       email,
		CreatedAt:   b.now(),
	}
	if err := b.Links.CreateLink(ctx, link); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// lost a race with another process; the stored link wins
			if res, lerr := b.resolveLinked(ctx, profile); res != nil || lerr != nil {
				return res, lerr
			}
		}
		return nil, fmt.Errorf("creating link: %w", err)
	}
	slog.Info("federated identity linked", "provider", profile.Provider, "principal", p.ID, "state", state)
	return &FederationResult{State: state, Principal: p, Link: link}, nil
}

// provisionOrMerge creates a principal for email. A create that collides
// with a principal holding the same email merges onto it instead; one that
// only collides on the username picks another username.
func (b *FederationBroker) provisionOrMerge(ctx context.Context, profile *ProviderProfile, email string) (FederationState, *Principal, error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var p *Principal
		p, err = b.provision(ctx, profile, email)
		if !errors.Is(err, ErrAlreadyExists) {
			return StateProvisioned, p, err
		}
		existing, lerr := b.Principals.GetPrincipalByEmail(ctx, email)
		if lerr == nil {
			return StateMerged, existing, nil
		} else if !errors.Is(lerr, ErrNotFound) {
			return StateFailed, nil, lerr
		}
	}
	return StateFailed, nil, err
}

// checkProviderFree keeps a principal at one link per provider
func (b *FederationBroker) checkProviderFree(ctx context.Context, p *Principal, profile *ProviderProfile) error {
	links, err := b.Links.GetPrincipalLinks(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("listing links for %s: %w", p.ID, err)
	}
	for _, l := range links {
		if l.Provider == profile.Provider && l.Subject != profile.Subject {
			slog.Warn("federated merge refused", "provider", profile.Provider, "principal", p.ID)
			return fmt.Errorf("%w: principal already linked to another %s account", ErrProviderFailure, profile.Provider)
		}
	}
	return nil
}

// resolveLinked returns (nil, nil) when no link exists yet
func (b *FederationBroker) resolveLinked(ctx context.Context, profile *ProviderProfile) (*FederationResult, error) {
	link, err := b.Links.GetLink(ctx, profile.Provider, profile.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("looking up link: %w", err)
	}
	p, err := b.Principals.GetPrincipalByID(ctx, link.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("linked principal %s: %w", link.PrincipalID, err)
	}
	return &FederationResult{State: StateLinked, Principal: p, Link: link}, nil
}

func (b *FederationBroker) provision(ctx context.Context, profile *ProviderProfile, email string) (*Principal, error) {
	username, err := b.availableUsername(ctx, email)
	if err != nil {
		return nil, err
	}
	now := b.now()
	p := &Principal{
		ID:          uuid.NewString(),
		Username:    username,
		Email:       email,
		Role:        DefaultRole,
		DisplayName: profile.Name,
		Picture:     profile.Picture,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.Principals.CreatePrincipal(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

var usernameStrip = regexp.MustCompile(`[^a-z0-9_-]+`)

// availableUsername derives a username from the email's local part,
// suffixing a counter when it is taken
func (b *FederationBroker) availableUsername(ctx context.Context, email string) (string, error) {
	base := email
	if i := strings.Index(base, "@"); i >= 0 {
		base = base[:i]
	}
	base = usernameStrip.ReplaceAllString(strings.ToLower(base), "")
	if len(base) < 3 {
		base = "user" + base
	}
	if len(base) > 20 {
		base = base[:20]
	}

	candidate := base
	for i := 2; i < 100; i++ {
		_, err := b.Principals.GetPrincipalByUsername(ctx, candidate)
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
	return base + "-" + uuid.NewString()[:8], nil
}
