package campusauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ca "github.com/panyam/campusauth"
)

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", "correct-horse")
	h := ca.NewAuthHandlers(env.Auth).Handler()

	t.Run("success", func(t *testing.T) {
		rr := postJSON(h, "/login", `{"username":"alice","password":"correct-horse"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)
		assert.NotEmpty(t, body["token"])
		user := body["user"].(map[string]any)
		assert.Equal(t, "alice", user["username"])
		assert.NotContains(t, user, "password_hash")
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := postJSON(h, "/login", `{"username":"alice","password":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, ca.ErrCodeInvalidCreds, decodeBody(t, rr)["code"])
	})

	t.Run("missing field", func(t *testing.T) {
		rr := postJSON(h, "/login", `{"username":"alice"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeBody(t, rr)
		assert.Equal(t, ca.ErrCodeMissingField, body["code"])
		assert.Equal(t, "password", body["field"])
	})

	t.Run("bad json", func(t *testing.T) {
		rr := postJSON(h, "/login", `{`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("form encoded", func(t *testing.T) {
		form := url.Values{"username": {"alice"}, "password": {"correct-horse"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

type denyAfter struct{ left int }

func (d *denyAfter) Allow(key string) bool {
	d.left--
	return d.left >= 0
}

func TestHandleLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", "correct-horse")
	handlers := ca.NewAuthHandlers(env.Auth)
	handlers.RateLimiter = &denyAfter{left: 1}
	h := handlers.Handler()

	assert.Equal(t, http.StatusUnauthorized, postJSON(h, "/login", `{"username":"alice","password":"x"}`).Code)
	rr := postJSON(h, "/login", `{"username":"alice","password":"correct-horse"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestHandleVerifyTwoFactor(t *testing.T) {
	env := newTestEnv(t)
	env.fixedCode("123456")
	env.addPrincipal(t, "bob", "hunter22", withEmailTwoFactor)
	h := ca.NewAuthHandlers(env.Auth).Handler()

	rr := postJSON(h, "/login", `{"username":"bob","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["requires2FA"])
	assert.NotContains(t, body, "token")
	temp := body["temp_token"].(string)

	rr = postJSON(h, "/2fa/verify", `{"temp_token":"`+temp+`","code":"000000"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, ca.ErrCodeCodeMismatch, decodeBody(t, rr)["code"])

	rr = postJSON(h, "/2fa/verify", `{"temp_token":"`+temp+`","code":"123456"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decodeBody(t, rr)["token"])

	rr = postJSON(h, "/2fa/verify", `{"temp_token":"`+temp+`","code":"123456"}`)
	assert.Equal(t, ca.ErrCodeInvalidTempToken, decodeBody(t, rr)["code"])
}

func TestHandleForgotPassword_SameResponse(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal(t, "alice", "correct-horse")
	h := ca.NewAuthHandlers(env.Auth).Handler()

	known := postJSON(h, "/forgot-password", `{"email":"alice@example.com"}`)
	unknown := postJSON(h, "/forgot-password", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Len(t, env.Dispatcher.Messages(), 1)

	rr := postJSON(h, "/forgot-password", `{"email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, ca.ErrCodeInvalidEmail, decodeBody(t, rr)["code"])
}

func TestHandleResetPassword(t *testing.T) {
	env := newTestEnv(t)
	alice := env.addPrincipal(t, "alice", "correct-horse")
	h := ca.NewAuthHandlers(env.Auth).Handler()

	postJSON(h, "/forgot-password", `{"email":"alice@example.com"}`)
	token := env.resetTokenFor(t, alice.Email)

	t.Run("form", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reset-password?token="+token, nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `value="`+token+`"`)
		assert.Contains(t, rr.Body.String(), `action="/auth/reset-password"`)

		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reset-password", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("weak password", func(t *testing.T) {
		rr := postJSON(h, "/reset-password", `{"token":"`+token+`","password":"short"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, ca.ErrCodeWeakPassword, decodeBody(t, rr)["code"])
	})

	t.Run("redeem once", func(t *testing.T) {
		rr := postJSON(h, "/reset-password", `{"token":"`+token+`","password":"battery-staple"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["token"])

		rr = postJSON(h, "/reset-password", `{"token":"`+token+`","password":"battery-staple"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, ca.ErrCodeInvalidToken, decodeBody(t, rr)["code"])
	})
}

func TestAuthHandlers_OnError(t *testing.T) {
	env := newTestEnv(t)
	handlers := ca.NewAuthHandlers(env.Auth)
	handlers.OnError = func(err *ca.AuthError, w http.ResponseWriter, r *http.Request) bool {
		http.Redirect(w, r, "/login?error="+err.Code, http.StatusSeeOther)
		return true
	}
	rr := postJSON(handlers.Handler(), "/login", `{"username":"ghost","password":"x"}`)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?error=invalid_credentials", rr.Header().Get("Location"))
}
