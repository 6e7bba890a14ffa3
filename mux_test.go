package campusauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ca "github.com/panyam/campusauth"
)

// browser carries cookies between requests against one handler
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, h http.Handler) *browser {
	return &browser{t: t, handler: h, cookies: map[string]*http.Cookie{}}
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
		} else {
			b.cookies[c.Name] = c
		}
	}
	return rr
}

func redirectQuery(t *testing.T, rr *httptest.ResponseRecorder) url.Values {
	t.Helper()
	require.Equal(t, http.StatusFound, rr.Code, rr.Body.String())
	u, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	return u.Query()
}

func startLogin(t *testing.T, b *browser, provider string) string {
	t.Helper()
	q := redirectQuery(t, b.get("/"+provider+"/"))
	state := q.Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestFederationHandler_Login(t *testing.T) {
	github := newFakeProvider(ca.ProviderGitHub)
	env := newTestEnv(t, github)
	bob := env.addPrincipal(t, "bob", "hunter22")
	github.issue("code-1", ca.ProviderProfile{Subject: "gh-42", Email: "bob@example.com"})

	fed := ca.NewFederationHandler(env.Auth, nil, "https://app.example.edu/login/done")
	fed.CookieName = "campus_session"
	b := newBrowser(t, fed.Handler())

	state := startLogin(t, b, "github")
	rr := b.get("/github/callback/?state=" + url.QueryEscape(state) + "&code=code-1")
	q := redirectQuery(t, rr)
	assert.Empty(t, q.Get("error"))
	require.NotEmpty(t, q.Get("token"))
	assert.Contains(t, rr.Header().Get("Location"), "https://app.example.edu/login/done?")

	var user map[string]any
	require.NoError(t, json.Unmarshal([]byte(q.Get("user")), &user))
	assert.Equal(t, bob.ID, user["id"])
	assert.NotContains(t, user, "password_hash")

	claims, err := env.Auth.Tokens.VerifySession(q.Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Username)
	require.Contains(t, b.cookies, "campus_session")
	assert.Equal(t, q.Get("token"), b.cookies["campus_session"].Value)

	// the state is spent
	q = redirectQuery(t, b.get("/github/callback/?state="+url.QueryEscape(state)+"&code=code-1"))
	assert.Equal(t, ca.ErrCodeAuthFailed, q.Get("error"))
}

func TestFederationHandler_SecondFactor(t *testing.T) {
	google := newFakeProvider(ca.ProviderGoogle)
	env := newTestEnv(t, google)
	env.fixedCode("123456")
	env.addPrincipal(t, "bob", "hunter22", withEmailTwoFactor)
	google.issue("code-1", ca.ProviderProfile{Subject: "g-1", Email: "bob@example.com"})

	b := newBrowser(t, ca.NewFederationHandler(env.Auth, nil, "/done").Handler())
	state := startLogin(t, b, "google")
	q := redirectQuery(t, b.get("/google/callback/?state="+url.QueryEscape(state)+"&code=code-1"))
	assert.Equal(t, "true", q.Get("requires2fa"))
	assert.Empty(t, q.Get("token"))

	res, err := env.Auth.VerifyTwoFactor(t.Context(), q.Get("temp_token"), "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionToken)
}

func TestFederationHandler_Failures(t *testing.T) {
	google := newFakeProvider(ca.ProviderGoogle)
	env := newTestEnv(t, google)
	google.issue("good", ca.ProviderProfile{Subject: "g-1", Email: "x@example.com"})

	tests := []struct {
		name  string
		query func(state string) string
	}{
		{"state mismatch", func(string) string { return "state=forged&code=good" }},
		{"provider denied", func(s string) string { return "state=" + url.QueryEscape(s) + "&error=access_denied" }},
		{"bad code", func(s string) string { return "state=" + url.QueryEscape(s) + "&code=bad" }},
		{"no code", func(s string) string { return "state=" + url.QueryEscape(s) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBrowser(t, ca.NewFederationHandler(env.Auth, nil, "/done?from=oauth").Handler())
			state := startLogin(t, b, "google")
			rr := b.get("/google/callback/?" + tt.query(state))
			q := redirectQuery(t, rr)
			assert.Equal(t, ca.ErrCodeAuthFailed, q.Get("error"))
			assert.Equal(t, "oauth", q.Get("from"))
			assert.Empty(t, q.Get("token"))
		})
	}

	t.Run("no session at all", func(t *testing.T) {
		b := newBrowser(t, ca.NewFederationHandler(env.Auth, nil, "/done").Handler())
		q := redirectQuery(t, b.get("/google/callback/?state=x&code=good"))
		assert.Equal(t, ca.ErrCodeAuthFailed, q.Get("error"))
	})

	t.Run("unknown provider", func(t *testing.T) {
		b := newBrowser(t, ca.NewFederationHandler(env.Auth, nil, "/done").Handler())
		assert.Equal(t, http.StatusNotFound, b.get("/myspace/").Code)
	})
}

func TestFederationHandler_Logout(t *testing.T) {
	env := newTestEnv(t)
	fed := ca.NewFederationHandler(env.Auth, nil, "/done")
	fed.CookieName = "campus_session"
	fed.CookieDomains = []string{"campus.example.edu", "lms.example.edu"}
	h := fed.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logout?to=/home", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/home", rr.Header().Get("Location"))

	cleared := 0
	for _, c := range rr.Result().Cookies() {
		if c.Name == "campus_session" {
			assert.Less(t, c.MaxAge, 0)
			cleared++
		}
	}
	assert.Equal(t, 2, cleared)

	for _, to := range []string{"https://evil.example", "//evil.example", "/\\evil.example", "/\\/evil.example", "/\tevil.example", "home"} {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/logout?to="+url.QueryEscape(to), nil))
		assert.Equal(t, http.StatusOK, rr.Code, "no open redirect to %s", to)
	}
}
