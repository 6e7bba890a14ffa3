package campusauth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
)

// FederationHandler serves the browser side of federated login:
//
//	GET /{provider}/           redirect to the provider's consent page
//	GET /{provider}/callback/  finish the handshake and redirect to CallbackURL
//	GET /logout                clear the session cookie
//
// CallbackURL receives exactly one of
//
//	?token=<session>&user=<json>
//	?requires2fa=true&temp_token=<temp>
//	?error=authentication_failed
type FederationHandler struct {
	Auth    *Authenticator
	Session *scs.SessionManager

	// Fixed application URL every callback lands on
	CallbackURL string

	// When set, successful logins also store the session token in this
	// cookie so Middleware can pick it up. Empty disables cookies.
	CookieName string

	// All the domains where the auth cookie is set on login and cleared on logout
	CookieDomains []string

	mux *http.ServeMux
}

func NewFederationHandler(auth *Authenticator, session *scs.SessionManager, callbackURL string) *FederationHandler {
	return (&FederationHandler{Auth: auth, Session: session, CallbackURL: callbackURL}).EnsureDefaults()
}

func (f *FederationHandler) EnsureDefaults() *FederationHandler {
	if f.Session == nil {
		f.Session = scs.New()
		f.Session.Lifetime = 15 * time.Minute
		f.Session.Cookie.Name = "campusauth_oauth"
		f.Session.Cookie.HttpOnly = true
		f.Session.Cookie.SameSite = http.SameSiteLaxMode
	}
	if f.CallbackURL == "" {
		f.CallbackURL = "/"
	}
	return f
}

// Handler returns the routes wrapped in the session manager
func (f *FederationHandler) Handler() http.Handler {
	f.EnsureDefaults()
	if f.mux == nil {
		f.mux = http.NewServeMux()
		f.mux.HandleFunc("GET /logout", f.onLogout)
		f.mux.HandleFunc("GET /{provider}/", f.onInitiate)
		f.mux.HandleFunc("GET /{provider}/callback/", f.onCallback)
	}
	return f.Session.LoadAndSave(f.mux)
}

func stateSessionKey(provider string) string {
	return "oauthstate:" + provider
}

func (f *FederationHandler) onInitiate(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	state, err := GenerateSecureToken()
	if err != nil {
		writeAuthError(w, ToAuthError(err))
		return
	}
	target, err := f.Auth.Federation.Initiate(provider, state)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Unknown provider", "code": ErrCodeAuthFailed})
		return
	}
	f.Session.Put(r.Context(), stateSessionKey(provider), state)
	slog.Info("federated login started", "provider", provider, "state", StateAuthorizationRequested)
	http.Redirect(w, r, target, http.StatusFound)
}

func (f *FederationHandler) onCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := r.PathValue("provider")
	expected := f.Session.PopString(ctx, stateSessionKey(provider))
	got := r.URL.Query().Get("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		slog.Warn("oauth state mismatch", "provider", provider)
		f.redirectFailure(w, r)
		return
	}
	if perr := r.URL.Query().Get("error"); perr != "" {
		slog.Info("provider denied authorization", "provider", provider, "error", perr)
		f.redirectFailure(w, r)
		return
	}

	profile, err := f.Auth.Federation.Exchange(ctx, provider, r.URL.Query().Get("code"))
	if err != nil {
		slog.Warn("provider exchange failed", "provider", provider, "err", err)
		f.redirectFailure(w, r)
		return
	}
	res, err := f.Auth.LoginFederated(ctx, profile)
	if err != nil {
		slog.Warn("federated login failed", "provider", provider, "err", err)
		f.redirectFailure(w, r)
		return
	}

	params := url.Values{}
	if res.Requires2FA {
		params.Set("requires2fa", "true")
		params.Set("temp_token", res.TempToken)
	} else {
		user, err := json.Marshal(res.Principal)
		if err != nil {
			f.redirectFailure(w, r)
			return
		}
		params.Set("token", res.SessionToken)
		params.Set("user", string(user))
		f.setSessionCookie(w, res.SessionToken, f.Auth.Tokens.SessionExpiry())
	}
	http.Redirect(w, r, f.callbackWith(params), http.StatusFound)
}

func (f *FederationHandler) redirectFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, f.callbackWith(url.Values{"error": {ErrCodeAuthFailed}}), http.StatusFound)
}

func (f *FederationHandler) callbackWith(params url.Values) string {
	sep := "?"
	if strings.Contains(f.CallbackURL, "?") {
		sep = "&"
	}
	return f.CallbackURL + sep + params.Encode()
}

func (f *FederationHandler) onLogout(w http.ResponseWriter, r *http.Request) {
	if err := f.Session.Destroy(r.Context()); err != nil {
		slog.Warn("error clearing session", "err", err)
	}
	f.setSessionCookie(w, "", -1)
	to := r.URL.Query().Get("to")
	if !isLocalPath(to) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	http.Redirect(w, r, to, http.StatusFound)
}

// isLocalPath reports whether to stays on this host. Browsers read a
// backslash as a slash, so "/\host" counts as "//host".
func isLocalPath(to string) bool {
	if !strings.HasPrefix(to, "/") || strings.ContainsAny(to, "\\\r\n\t") {
		return false
	}
	u, err := url.Parse(to)
	return err == nil && u.Scheme == "" && u.Host == "" && !strings.HasPrefix(u.Path, "//")
}

// setSessionCookie sets (or with a negative maxAge, clears) the auth cookie
// on every configured domain
func (f *FederationHandler) setSessionCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	if f.CookieName == "" {
		return
	}
	domains := f.CookieDomains
	if len(domains) == 0 {
		domains = []string{""}
	}
	for _, domain := range domains {
		c := &http.Cookie{
			Name:     f.CookieName,
			Value:    token,
			Domain:   domain,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
		if maxAge < 0 {
			c.MaxAge = -1
			c.Expires = time.Unix(0, 0)
		} else {
			c.MaxAge = int(maxAge.Seconds())
			c.Expires = time.Now().Add(maxAge)
		}
		http.SetCookie(w, c)
	}
}
